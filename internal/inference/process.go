package inference

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/therealutkarshpriyadarshi/poseflow/internal/config"
	"github.com/therealutkarshpriyadarshi/poseflow/internal/logging"
	"github.com/therealutkarshpriyadarshi/poseflow/pkg/models"
)

// ErrModelClosed is returned for requests made after the model process exited
var ErrModelClosed = errors.New("model process closed")

// request is one line written to the model process stdin
type request struct {
	ID     uint64              `json:"id"`
	Op     string              `json:"op"` // load, estimate
	Config *models.ModelConfig `json:"config,omitempty"`
	Image  string              `json:"image,omitempty"`
	Width  int                 `json:"width,omitempty"`
	Height int                 `json:"height,omitempty"`
}

// response is one line read from the model process stdout
type response struct {
	ID    uint64        `json:"id"`
	Poses []models.Pose `json:"poses"`
	Error string        `json:"error,omitempty"`
}

// ProcessModel runs pose estimation in an external process speaking
// newline-delimited JSON over stdin/stdout. Requests are multiplexed by id.
type ProcessModel struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	timeout time.Duration // per request, 0 disables
	logger  *logging.Logger

	writeMu sync.Mutex
	mu      sync.Mutex
	pending map[uint64]chan response
	nextID  atomic.Uint64
	done    chan struct{}
	err     error
}

// NewProcessLoader returns a Loader that starts one model process per configuration
func NewProcessLoader(cfg config.InferenceConfig, logger *logging.Logger) Loader {
	return func(ctx context.Context, modelCfg models.ModelConfig) (Model, error) {
		return StartProcessModel(ctx, cfg, modelCfg, logger)
	}
}

// StartProcessModel starts the model process and waits until it has loaded modelCfg
func StartProcessModel(ctx context.Context, cfg config.InferenceConfig, modelCfg models.ModelConfig, logger *logging.Logger) (*ProcessModel, error) {
	if cfg.Command == "" {
		return nil, errors.New("no inference command configured")
	}

	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", cfg.Command, err)
	}

	m := &ProcessModel{
		cmd:     cmd,
		stdin:   stdin,
		logger:  logger.WithComponent("model-process").WithField("pid", cmd.Process.Pid),
		pending: make(map[uint64]chan response),
		done:    make(chan struct{}),
	}
	go m.readLoop(stdout)

	if _, err := m.call(ctx, request{Op: "load", Config: &modelCfg}); err != nil {
		m.Close()
		return nil, err
	}

	// loading is bounded by ctx only
	m.timeout = cfg.RequestTimeout
	m.logger.Infof("Model process ready: %s", modelCfg.Architecture)
	return m, nil
}

// EstimatePoses implements Model
func (m *ProcessModel) EstimatePoses(ctx context.Context, img image.Image, params models.ModelConfig) ([]models.Pose, error) {
	encoded, err := encodeJPEG(img)
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}

	bounds := img.Bounds()
	resp, err := m.call(ctx, request{
		Op:     "estimate",
		Config: &params,
		Image:  base64.StdEncoding.EncodeToString(encoded),
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	})
	if err != nil {
		return nil, err
	}
	if resp.Poses == nil {
		return []models.Pose{}, nil
	}
	return resp.Poses, nil
}

func (m *ProcessModel) call(ctx context.Context, req request) (response, error) {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	req.ID = m.nextID.Add(1)
	ch := make(chan response, 1)

	m.mu.Lock()
	if m.pending == nil {
		m.mu.Unlock()
		return response{}, ErrModelClosed
	}
	m.pending[req.ID] = ch
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		if m.pending != nil {
			delete(m.pending, req.ID)
		}
		m.mu.Unlock()
	}()

	line, err := json.Marshal(req)
	if err != nil {
		return response{}, err
	}
	line = append(line, '\n')

	m.writeMu.Lock()
	_, err = m.stdin.Write(line)
	m.writeMu.Unlock()
	if err != nil {
		return response{}, fmt.Errorf("failed to write request: %w", err)
	}

	select {
	case resp := <-ch:
		if resp.Error != "" {
			return resp, errors.New(resp.Error)
		}
		return resp, nil
	case <-m.done:
		return response{}, m.exitErr()
	case <-ctx.Done():
		return response{}, ctx.Err()
	}
}

func (m *ProcessModel) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		var resp response
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			m.logger.WarnWithErr("Discarding malformed model output", err)
			continue
		}

		m.mu.Lock()
		ch, ok := m.pending[resp.ID]
		m.mu.Unlock()
		if ok {
			ch <- resp
		}
	}

	err := scanner.Err()
	if err == nil {
		err = ErrModelClosed
	}

	m.mu.Lock()
	m.err = err
	m.pending = nil
	m.mu.Unlock()
	close(m.done)
}

func (m *ProcessModel) exitErr() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Close stops the model process
func (m *ProcessModel) Close() error {
	m.stdin.Close()
	if m.cmd.Process != nil {
		m.cmd.Process.Kill()
	}
	<-m.done
	m.cmd.Wait()
	return nil
}
