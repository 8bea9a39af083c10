package models

import (
	"fmt"
	"iter"
	"os"
	"sync"
)

// Quality is an encoding tier trading encode speed for compression efficiency
type Quality string

// Quality constants
const (
	QualityLow    Quality = "low"
	QualityMedium Quality = "medium"
	QualityHigh   Quality = "high"
)

// ParseQuality validates a quality tier, defaulting empty input to medium
func ParseQuality(s string) (Quality, error) {
	switch Quality(s) {
	case "":
		return QualityMedium, nil
	case QualityLow, QualityMedium, QualityHigh:
		return Quality(s), nil
	}
	return "", fmt.Errorf("invalid quality %q (want low, medium or high)", s)
}

// VideoMetadata describes a probed video file. Immutable once extracted.
type VideoMetadata struct {
	Duration  float64 `json:"duration"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	FrameRate float64 `json:"frameRate"`
	Bitrate   int64   `json:"bitrate"`
	Format    string  `json:"format"`
	Codec     string  `json:"codec,omitempty"`
	Size      int64   `json:"size"`
}

// ProcessingResult is the outcome of a single transcoder invocation.
// It is always returned, never raised: failures set Success=false and Error.
type ProcessingResult struct {
	Success       bool           `json:"success"`
	OutputPath    string         `json:"outputPath,omitempty"`
	ThumbnailPath string         `json:"thumbnailPath,omitempty"`
	FrameDir      string         `json:"frameDir,omitempty"`
	FrameCount    int            `json:"frameCount,omitempty"`
	Metadata      *VideoMetadata `json:"metadata,omitempty"`
	Error         string         `json:"error,omitempty"`

	// Err keeps the typed cause of a failure for errors.As
	Err error `json:"-"`

	// Frames is set when frame extraction was requested; ownership passes to the caller
	Frames *FrameSequence `json:"-"`

	// Artifacts maps artifact names to object storage keys when uploads are enabled
	Artifacts map[string]string `json:"artifacts,omitempty"`
}

// FrameSequence is a finite, ordered, single-pass sequence of extracted frame paths.
// Once a path has been yielded it is not yielded again.
type FrameSequence struct {
	mu    sync.Mutex
	dir   string
	paths []string
	next  int
}

// NewFrameSequence creates a sequence over paths stored under dir
func NewFrameSequence(dir string, paths []string) *FrameSequence {
	return &FrameSequence{dir: dir, paths: paths}
}

// Next returns the next frame path, or false when the sequence is exhausted
func (s *FrameSequence) Next() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.next >= len(s.paths) {
		return "", false
	}
	p := s.paths[s.next]
	s.next++
	return p, true
}

// All yields the remaining frames with their position in the original sequence
func (s *FrameSequence) All() iter.Seq2[int, string] {
	return func(yield func(int, string) bool) {
		for {
			s.mu.Lock()
			if s.next >= len(s.paths) {
				s.mu.Unlock()
				return
			}
			i, p := s.next, s.paths[s.next]
			s.next++
			s.mu.Unlock()

			if !yield(i, p) {
				return
			}
		}
	}
}

// Len returns the total number of frames in the sequence
func (s *FrameSequence) Len() int {
	return len(s.paths)
}

// Dir returns the directory holding the frames
func (s *FrameSequence) Dir() string {
	return s.dir
}

// Remove deletes the frame directory
func (s *FrameSequence) Remove() error {
	if s.dir == "" {
		return nil
	}
	return os.RemoveAll(s.dir)
}
