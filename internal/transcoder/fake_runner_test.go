package transcoder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// fakeRunner emulates ffmpeg/ffprobe by writing the files a real run would produce
type fakeRunner struct {
	mu    sync.Mutex
	calls [][]string

	probeJSON  string
	frameCount int
	failOn     map[string]error // keyed by operation: probe, optimize, thumbnail, frames
}

func newFakeRunner(duration float64) *fakeRunner {
	return &fakeRunner{
		probeJSON:  probeJSON(duration),
		frameCount: 3,
		failOn:     map[string]error{},
	}
}

func probeJSON(duration float64) string {
	return fmt.Sprintf(`{
  "streams": [
    {"codec_type": "audio", "codec_name": "aac"},
    {"codec_type": "video", "codec_name": "h264", "width": 1280, "height": 720,
     "r_frame_rate": "90000/1", "avg_frame_rate": "30000/1001", "bit_rate": "900000"}
  ],
  "format": {"filename": "in.mp4", "format_name": "mov,mp4,m4a,3gp,3g2,mj2",
             "duration": "%.6f", "size": "1250000", "bit_rate": "1000000"}
}`, duration)
}

func (r *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	r.mu.Lock()
	r.calls = append(r.calls, append([]string{name}, args...))
	r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	op := classify(name, args)
	if err, ok := r.failOn[op]; ok {
		return nil, err
	}

	switch op {
	case "version":
		return []byte(name + " version 6.1"), nil
	case "probe":
		return []byte(r.probeJSON), nil
	case "frames":
		pattern := args[len(args)-1]
		for i := 1; i <= r.frameCount; i++ {
			if err := os.WriteFile(fmt.Sprintf(pattern, i), []byte("jpeg"), 0644); err != nil {
				return nil, err
			}
		}
		return nil, nil
	default:
		out := args[len(args)-1]
		if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
			return nil, err
		}
		return nil, os.WriteFile(out, []byte(op), 0644)
	}
}

func (r *fakeRunner) ops() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ops := make([]string, 0, len(r.calls))
	for _, c := range r.calls {
		ops = append(ops, classify(c[0], c[1:]))
	}
	return ops
}

func classify(name string, args []string) string {
	joined := strings.Join(args, " ")
	switch {
	case len(args) == 1 && args[0] == "-version":
		return "version"
	case strings.Contains(name, "ffprobe"):
		return "probe"
	case strings.Contains(joined, "fps="):
		return "frames"
	case strings.Contains(joined, "-vframes"):
		return "thumbnail"
	default:
		return "optimize"
	}
}
