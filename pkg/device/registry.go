package device

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ethan/bambu-lan-gateway/pkg/config"
	"github.com/ethan/bambu-lan-gateway/pkg/logger"
	"github.com/ethan/bambu-lan-gateway/pkg/metrics"
)

// Registry holds one Supervisor per configured printer, keyed by device
// ID, for the HTTP layer to look up by path parameter.
type Registry struct {
	mu         sync.RWMutex
	supervisors map[string]*Supervisor
}

// NewRegistry builds a supervisor for every device in cfg. If any
// device fails to initialize (its output directory can't be created),
// the ones already built are shut down and the error is returned —
// partial startup would leave the HTTP layer listing devices with no
// backing supervisor.
func NewRegistry(cfg *config.Config, log *logger.Logger) (*Registry, error) {
	r := &Registry{supervisors: make(map[string]*Supervisor, len(cfg.Devices))}

	for _, dev := range cfg.Devices {
		sup, err := New(dev, *cfg, log)
		if err != nil {
			r.shutdownAll()
			return nil, fmt.Errorf("registry: device %s: %w", dev.ID, err)
		}
		r.supervisors[dev.ID] = sup
	}

	return r, nil
}

// SetMetrics wires a metrics sink into every supervisor in the
// registry.
func (r *Registry) SetMetrics(m *metrics.Metrics) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, sup := range r.supervisors {
		sup.SetMetrics(m)
	}
}

// Get returns the supervisor for id, or false if no device with that
// ID is configured.
func (r *Registry) Get(id string) (*Supervisor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sup, ok := r.supervisors[id]
	return sup, ok
}

// List returns every supervisor, ordered by device ID for stable
// listing output.
func (r *Registry) List() []*Supervisor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Supervisor, 0, len(r.supervisors))
	for _, sup := range r.supervisors {
		out = append(out, sup)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Device.ID < out[j].Device.ID })
	return out
}

// StartAll starts every supervisor's background sessions.
func (r *Registry) StartAll(ctx context.Context) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, sup := range r.supervisors {
		sup.Start(ctx)
	}
}

// ShutdownAll stops every supervisor and waits for their background
// sessions to exit.
func (r *Registry) ShutdownAll() {
	r.shutdownAll()
}

func (r *Registry) shutdownAll() {
	r.mu.RLock()
	sups := make([]*Supervisor, 0, len(r.supervisors))
	for _, sup := range r.supervisors {
		sups = append(sups, sup)
	}
	r.mu.RUnlock()

	var wg sync.WaitGroup
	for _, sup := range sups {
		wg.Add(1)
		go func(s *Supervisor) {
			defer wg.Done()
			s.Shutdown()
		}(sup)
	}
	wg.Wait()
}
