// Package cmaf fragments decoded H.264 access units into CMAF/fMP4
// segments and parts, renders the accompanying LL-HLS playlist, and
// fans the live fragments out to WebSocket subscribers via Broadcaster.
package cmaf

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethan/bambu-lan-gateway/pkg/logger"
	"github.com/ethan/bambu-lan-gateway/pkg/rtp"
)

const (
	minPartDurationSecs = 0.1
	fallbackSampleDur90k = 3000
)

type partInfo struct {
	index       uint32
	duration    float64
	byteStart   uint64
	byteLength  uint64
	independent bool
}

type segmentInfo struct {
	seq      uint64
	duration float64
	filename string
	parts    []partInfo
}

type sample struct {
	pts90k uint64
	isIDR  bool
	nals   [][]byte
}

type segmentBuffer struct {
	seq            uint64
	startPTS       uint64
	lastPTS        uint64
	frames         uint64
	filename       string
	file           *os.File
	bytesWritten   uint64
	parts          []partInfo
	partIndex      uint32
	partStartPTS   uint64
	partStartByte  uint64
	partSamples    []sample
	partIndependent bool
}

// Segmenter consumes access units for a single device's video track and
// writes CMAF segments, parts, an init.mp4, and an LL-HLS playlist to
// outputDir, while also publishing every part to broadcaster for
// WebSocket subscribers.
type Segmenter struct {
	outputDir      string
	targetDuration float64
	window         int
	partDuration   float64

	sequence         uint64
	segments         []segmentInfo
	current          *segmentBuffer
	sps, pps         []byte
	lastInitSPS      []byte
	lastInitPPS      []byte
	lastSampleDur    uint32
	hasLastSampleDur bool
	fragmentSequence uint32

	broadcaster *Broadcaster
	logger      *logger.Logger

	onSegmentFinalized func()
}

// NewSegmenter creates the output directory and returns a Segmenter
// ready to accept access units. partDurationSecs is clamped into
// [0.1, targetDurationSecs]; a non-positive value falls back to
// targetDurationSecs (one part per segment).
func NewSegmenter(outputDir string, targetDurationSecs float64, windowSegments int, partDurationSecs float64, broadcaster *Broadcaster, log *logger.Logger) (*Segmenter, error) {
	if log == nil {
		log = logger.Default()
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("cmaf: create output dir: %w", err)
	}

	resolved := partDurationSecs
	if resolved <= 0 {
		resolved = targetDurationSecs
	}
	maxPart := targetDurationSecs
	if maxPart < minPartDurationSecs {
		maxPart = minPartDurationSecs
	}
	if resolved < minPartDurationSecs {
		resolved = minPartDurationSecs
	}
	if resolved > maxPart {
		resolved = maxPart
	}

	return &Segmenter{
		outputDir:        outputDir,
		targetDuration:   targetDurationSecs,
		window:           windowSegments,
		partDuration:     resolved,
		fragmentSequence: 1,
		broadcaster:      broadcaster,
		logger:           log,
	}, nil
}

// SetOnSegmentFinalized registers a callback invoked every time a
// segment is finalized and written to disk, e.g. to feed a metrics
// counter. Optional.
func (s *Segmenter) SetOnSegmentFinalized(fn func()) {
	s.onSegmentFinalized = fn
}

// SetParameterSets records the SPS/PPS to use for the next init segment
// write. A change takes effect the next time an access unit is pushed.
func (s *Segmenter) SetParameterSets(sps, pps []byte) {
	s.sps = sps
	s.pps = pps
}

// EnsureInit writes the init segment now if the current parameter sets
// haven't been published yet.
func (s *Segmenter) EnsureInit() error {
	return s.writeInitIfNeeded()
}

// PushAccessUnit appends one decoded access unit at the given 90kHz
// presentation timestamp, rotating segments and parts as needed. It is
// a no-op until the first IDR access unit arrives, since a segment must
// start on a keyframe. Later parts within a segment may start on any
// frame; only a part whose first sample is an IDR is marked independent.
func (s *Segmenter) PushAccessUnit(au rtp.AccessUnit, pts90k uint64) error {
	if err := s.writeInitIfNeeded(); err != nil {
		return err
	}

	if s.current == nil {
		if !au.IsIDR {
			return nil
		}
		if err := s.startSegment(pts90k); err != nil {
			return err
		}
	}

	current := s.current
	s.current = nil

	elapsed := float64(saturatingSub(pts90k, current.startPTS)) / 90000.0
	if elapsed >= s.targetDuration && au.IsIDR {
		if err := s.flushPart(current); err != nil {
			return err
		}
		if err := s.finalizeSegmentBuffer(current); err != nil {
			return err
		}
		if err := s.startSegment(pts90k); err != nil {
			return err
		}
		current = s.current
		s.current = nil
	}

	if len(current.partSamples) == 0 {
		current.partStartPTS = pts90k
		current.partStartByte = current.bytesWritten
		current.partIndependent = au.IsIDR
	}

	partElapsed := float64(saturatingSub(pts90k, current.partStartPTS)) / 90000.0
	if len(current.partSamples) > 0 && partElapsed >= s.partDuration {
		if err := s.flushPart(current); err != nil {
			return err
		}
		current.partStartPTS = pts90k
		current.partStartByte = current.bytesWritten
		current.partIndependent = au.IsIDR
		if err := s.writePlaylist(current); err != nil {
			return err
		}
	}

	current.lastPTS = pts90k
	current.frames++
	current.partSamples = append(current.partSamples, sample{pts90k: pts90k, isIDR: au.IsIDR, nals: au.NALs})

	s.current = current
	return nil
}

// FinalizeSegment flushes and closes out whatever segment is currently
// open, if any. Callers use this on clean shutdown so the last segment
// isn't left dangling mid-part.
func (s *Segmenter) FinalizeSegment() error {
	if s.current == nil {
		return nil
	}
	current := s.current
	s.current = nil
	return s.finalizeSegmentBuffer(current)
}

func saturatingSub(a, b uint64) uint64 {
	if a < b {
		return 0
	}
	return a - b
}

func (s *Segmenter) startSegment(pts90k uint64) error {
	seq := s.sequence
	s.sequence++
	filename := fmt.Sprintf("seg%06d.m4s", seq)
	path := filepath.Join(s.outputDir, filename)
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("cmaf: create segment file: %w", err)
	}
	s.current = &segmentBuffer{
		seq:             seq,
		startPTS:        pts90k,
		lastPTS:         pts90k,
		filename:        filename,
		file:            file,
		partStartPTS:    pts90k,
		partIndependent: true,
	}
	return nil
}

func (s *Segmenter) flushPart(current *segmentBuffer) error {
	if len(current.partSamples) == 0 {
		return nil
	}

	samples := current.partSamples
	current.partSamples = nil
	partStartPTS := current.partStartPTS

	durations, totalDuration90k := s.computeSampleDurations(samples)

	sampleDatas := make([][]byte, len(samples))
	sampleSizes := make([]uint32, len(samples))
	sampleFlags := make([]uint32, len(samples))
	for i, smp := range samples {
		data := buildAVCSample(smp.nals)
		sampleDatas[i] = data
		sampleSizes[i] = uint32(len(data))
		if smp.isIDR {
			sampleFlags[i] = sampleFlagSync
		} else {
			sampleFlags[i] = sampleFlagNonSync
		}
		if i == len(samples)-1 {
			s.lastSampleDur = durations[len(durations)-1]
			s.hasLastSampleDur = true
		}
	}

	sequence := s.fragmentSequence
	s.fragmentSequence++

	moof := buildMoof(sequence, partStartPTS, durations, sampleSizes, sampleFlags)
	styp := buildStyp()
	mdat := buildMdat(sampleDatas)

	partBytes := make([]byte, 0, len(styp)+len(moof)+len(mdat))
	partBytes = append(partBytes, styp...)
	partBytes = append(partBytes, moof...)
	partBytes = append(partBytes, mdat...)

	if s.broadcaster != nil {
		s.broadcaster.SendFragment(partBytes)
	}

	if _, err := current.file.Write(partBytes); err != nil {
		return fmt.Errorf("cmaf: write part: %w", err)
	}
	if err := current.file.Sync(); err != nil {
		return fmt.Errorf("cmaf: flush part: %w", err)
	}

	byteStart := current.partStartByte
	byteLength := uint64(len(partBytes))
	current.bytesWritten += byteLength

	duration := float64(totalDuration90k) / 90000.0
	if duration < 0.001 {
		duration = 0.001
	}
	partIdx := current.partIndex
	current.parts = append(current.parts, partInfo{
		index:       partIdx,
		duration:    duration,
		byteStart:   byteStart,
		byteLength:  byteLength,
		independent: current.partIndependent,
	})
	current.partIndex++
	current.partStartByte = current.bytesWritten
	current.partIndependent = false

	s.logger.DebugCMAF("cmaf part written", "part", partIdx, "bytes", byteLength, "duration", duration)
	return nil
}

func (s *Segmenter) computeSampleDurations(samples []sample) ([]uint32, uint64) {
	durations := make([]uint32, len(samples))
	var total uint64
	for i := range samples {
		var duration uint32
		if i+1 < len(samples) {
			cur, next := samples[i].pts90k, samples[i+1].pts90k
			if next > cur {
				duration = uint32(next - cur)
			} else if s.hasLastSampleDur {
				duration = s.lastSampleDur
			} else {
				duration = fallbackSampleDur90k
			}
		} else if s.hasLastSampleDur {
			duration = s.lastSampleDur
		} else if len(samples) > 1 {
			duration = durations[i-1]
		} else {
			duration = uint32(s.partDuration * 90000.0)
		}
		if duration < 1 {
			duration = 1
		}
		durations[i] = duration
		total += uint64(duration)
	}
	return durations, total
}

func (s *Segmenter) finalizeSegmentBuffer(current *segmentBuffer) error {
	if err := s.flushPart(current); err != nil {
		return err
	}
	_ = current.file.Sync()
	_ = current.file.Close()

	duration := 0.1
	if current.lastPTS > current.startPTS {
		duration = float64(current.lastPTS-current.startPTS) / 90000.0
	}

	s.logger.DebugCMAF("cmaf segment written", "segment", current.filename, "duration", duration)

	s.segments = append(s.segments, segmentInfo{
		seq:      current.seq,
		duration: duration,
		filename: current.filename,
		parts:    current.parts,
	})

	for len(s.segments) > s.window {
		old := s.segments[0]
		s.segments = s.segments[1:]
		_ = os.Remove(filepath.Join(s.outputDir, old.filename))
	}

	if s.onSegmentFinalized != nil {
		s.onSegmentFinalized()
	}

	return s.writePlaylist(nil)
}

func (s *Segmenter) writePlaylist(current *segmentBuffer) error {
	playlist := s.renderPlaylist(current)
	tmpPath := filepath.Join(s.outputDir, "stream.m3u8.tmp")
	finalPath := filepath.Join(s.outputDir, "stream.m3u8")
	if err := os.WriteFile(tmpPath, []byte(playlist), 0o644); err != nil {
		return fmt.Errorf("cmaf: write playlist: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("cmaf: rename playlist: %w", err)
	}
	return nil
}

func (s *Segmenter) writeInitIfNeeded() error {
	if s.sps == nil || s.pps == nil {
		return nil
	}
	if bytes.Equal(s.lastInitSPS, s.sps) && bytes.Equal(s.lastInitPPS, s.pps) {
		return nil
	}

	data, codec, err := BuildInit(s.sps, s.pps)
	if err != nil {
		return err
	}

	path := filepath.Join(s.outputDir, "init.mp4")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("cmaf: write init: %w", err)
	}

	if s.broadcaster != nil {
		s.broadcaster.UpdateInit(Init{Bytes: data, Codec: codec})
	}

	s.lastInitSPS = append([]byte(nil), s.sps...)
	s.lastInitPPS = append([]byte(nil), s.pps...)
	return nil
}

// OutputDir returns the directory this segmenter writes segments,
// parts, init.mp4, and the playlist into.
func (s *Segmenter) OutputDir() string {
	return s.outputDir
}
