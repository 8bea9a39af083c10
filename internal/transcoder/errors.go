package transcoder

import (
	"errors"
	"fmt"
)

// ErrToolUnavailable matches any error caused by a missing or non-executable tool binary
var ErrToolUnavailable = errors.New("external tool unavailable")

// ToolUnavailableError means the configured binary could not be started at all.
// It points at deployment configuration rather than at a specific input video.
type ToolUnavailableError struct {
	Tool string
	Err  error
}

func (e *ToolUnavailableError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Tool, e.Err)
}

func (e *ToolUnavailableError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrToolUnavailable) hold
func (e *ToolUnavailableError) Is(target error) bool { return target == ErrToolUnavailable }

// CommandError is a non-zero exit from an external tool
type CommandError struct {
	Tool     string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s exited with code %d", e.Tool, e.ExitCode)
	}
	return fmt.Sprintf("%s exited with code %d: %s", e.Tool, e.ExitCode, e.Stderr)
}

// MetadataExtractionError is returned when probing fails or its output cannot be parsed
type MetadataExtractionError struct {
	Path string
	Err  error
}

func (e *MetadataExtractionError) Error() string {
	return fmt.Sprintf("metadata extraction failed for %s: %v", e.Path, e.Err)
}

func (e *MetadataExtractionError) Unwrap() error { return e.Err }

// TranscodeError is returned when re-encoding or thumbnail generation fails
type TranscodeError struct {
	Op   string // optimize, thumbnail
	Path string
	Err  error
}

func (e *TranscodeError) Error() string {
	return fmt.Sprintf("%s failed for %s: %v", e.Op, e.Path, e.Err)
}

func (e *TranscodeError) Unwrap() error { return e.Err }

// FrameExtractionError is returned when frames cannot be sampled from a video
type FrameExtractionError struct {
	Path string
	Err  error
}

func (e *FrameExtractionError) Error() string {
	return fmt.Sprintf("frame extraction failed for %s: %v", e.Path, e.Err)
}

func (e *FrameExtractionError) Unwrap() error { return e.Err }
