package mqtt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewSession_DefaultsKeepAlive(t *testing.T) {
	s := NewSession(Options{Host: "10.0.0.5", Serial: "ABC123"}, nil, nil, nil)
	require.Equal(t, 30*time.Second, s.opts.KeepAlive)
}

func TestNewSession_PreservesExplicitKeepAlive(t *testing.T) {
	s := NewSession(Options{Host: "10.0.0.5", Serial: "ABC123", KeepAlive: 5 * time.Second}, nil, nil, nil)
	require.Equal(t, 5*time.Second, s.opts.KeepAlive)
}

func TestRandomSuffix_ProducesRequestedLength(t *testing.T) {
	suffix := randomSuffix(6)
	require.Len(t, suffix, 6)
}

func TestRandomSuffix_VariesAcrossCalls(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		seen[randomSuffix(8)] = true
	}
	require.Greater(t, len(seen), 1)
}
