package inference

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/poseflow/internal/logging"
	"github.com/therealutkarshpriyadarshi/poseflow/internal/metrics"
	"github.com/therealutkarshpriyadarshi/poseflow/internal/tracing"
	"github.com/therealutkarshpriyadarshi/poseflow/pkg/models"
)

// ErrModelNotLoaded is returned when no model has been loaded yet
var ErrModelNotLoaded = errors.New("model not loaded")

// Manager owns the shared model instance.
// Inference calls hold a read lock; swapping in a reloaded model takes the write lock.
type Manager struct {
	loader Loader
	logger *logging.Logger

	reloadMu sync.Mutex // serializes loads

	mu     sync.RWMutex
	model  Model
	config models.ModelConfig
}

// NewManager creates a manager with no model loaded
func NewManager(loader Loader, logger *logging.Logger) *Manager {
	return &Manager{
		loader: loader,
		logger: logger.WithComponent("inference"),
	}
}

// Load loads a model for cfg unconditionally
func (m *Manager) Load(ctx context.Context, cfg models.ModelConfig) error {
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()
	return m.load(ctx, cfg)
}

// Reload loads a model for cfg unless the loaded model already serves it.
// On failure the previous model keeps serving.
func (m *Manager) Reload(ctx context.Context, cfg models.ModelConfig) error {
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()

	m.mu.RLock()
	current, loaded := m.config, m.model != nil
	m.mu.RUnlock()

	if loaded && !current.RequiresReload(cfg) {
		return nil
	}
	return m.load(ctx, cfg)
}

func (m *Manager) load(ctx context.Context, cfg models.ModelConfig) error {
	span, ctx := tracing.StartSpan(ctx, "inference.load")
	defer tracing.FinishSpan(span)
	tracing.SetTag(span, "architecture", cfg.Architecture)

	start := time.Now()
	err := cfg.Validate()
	var next Model
	if err == nil {
		next, err = m.loader(ctx, cfg)
	}
	metrics.RecordModelReload(err)
	if err != nil {
		tracing.LogError(span, err)
		m.logger.WithError(err).Errorf("Failed to load %s model", cfg.Architecture)
		return &ConfigReloadError{Config: cfg, Err: err}
	}

	// waits for in-flight inference on the old model
	m.mu.Lock()
	old := m.model
	m.model = next
	m.config = cfg
	m.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			m.logger.WarnWithErr("Failed to close previous model", err)
		}
	}

	m.logger.WithFields(map[string]interface{}{
		"architecture":     cfg.Architecture,
		"output_stride":    cfg.OutputStride,
		"input_resolution": cfg.InputResolution,
		"duration_ms":      time.Since(start).Milliseconds(),
	}).Info("Model loaded")
	return nil
}

// Loaded reports whether a model is available
func (m *Manager) Loaded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.model != nil
}

// Config returns the configuration of the loaded model
func (m *Manager) Config() models.ModelConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// Analyze runs inference on one decoded frame and times it.
// timestamp is echoed back; zero means now.
func (m *Manager) Analyze(ctx context.Context, img image.Image, params models.ModelConfig, timestamp int64) (*models.PoseEstimationResult, error) {
	span, ctx := tracing.StartSpan(ctx, "inference.analyze")
	defer tracing.FinishSpan(span)

	start := time.Now()
	poses, err := m.estimate(ctx, img, params)
	elapsed := time.Since(start)
	metrics.RecordFrameAnalyzed(err, elapsed.Seconds())
	if err != nil {
		tracing.LogError(span, err)
		return nil, err
	}
	tracing.SetTag(span, "poses", len(poses))

	if timestamp == 0 {
		timestamp = time.Now().UnixMilli()
	}
	return &models.PoseEstimationResult{
		Timestamp:      timestamp,
		Poses:          poses,
		ProcessingTime: float64(elapsed.Microseconds()) / 1000,
	}, nil
}

func (m *Manager) estimate(ctx context.Context, img image.Image, params models.ModelConfig) ([]models.Pose, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.model == nil {
		return nil, &InferenceError{Err: ErrModelNotLoaded}
	}
	poses, err := m.model.EstimatePoses(ctx, img, params)
	if err != nil {
		return nil, &InferenceError{Err: err}
	}
	if poses == nil {
		poses = []models.Pose{}
	}
	return poses, nil
}

// Close releases the loaded model
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.model == nil {
		return nil
	}
	err := m.model.Close()
	m.model = nil
	return err
}
