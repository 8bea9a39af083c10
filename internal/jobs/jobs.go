package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"path"

	"github.com/therealutkarshpriyadarshi/poseflow/internal/logging"
	"github.com/therealutkarshpriyadarshi/poseflow/internal/scheduler"
	"github.com/therealutkarshpriyadarshi/poseflow/internal/transcoder"
	"github.com/therealutkarshpriyadarshi/poseflow/pkg/models"
)

// Transcoder is the subset of transcoder.Service the executors need
type Transcoder interface {
	ProcessVideo(ctx context.Context, opts transcoder.ProcessOptions) models.ProcessingResult
	ExtractFrames(ctx context.Context, inputPath string, frameRate float64) (*models.FrameSequence, error)
}

// Analyzer runs pose inference on decoded frames
type Analyzer interface {
	Analyze(ctx context.Context, img image.Image, params models.ModelConfig, timestamp int64) (*models.PoseEstimationResult, error)
	Config() models.ModelConfig
}

// ArtifactUploader stores job outputs and returns their object keys by name
type ArtifactUploader interface {
	UploadArtifacts(ctx context.Context, prefix string, files map[string]string) (map[string]string, error)
}

// DefaultPoseFrameRate is the sampling rate used when a pose job does not set one
const DefaultPoseFrameRate = 5.0

var errMissingInput = errors.New("inputPath is required")

// Executors builds the task handlers registered on the job queue
type Executors struct {
	transcoder Transcoder
	analyzer   Analyzer
	uploader   ArtifactUploader
	outputDir  string
	logger     *logging.Logger
}

// Option configures Executors
type Option func(*Executors)

// WithUploader uploads transcode and analysis outputs to object storage
func WithUploader(u ArtifactUploader) Option {
	return func(e *Executors) { e.uploader = u }
}

// New creates the executors. outputDir receives pose result files.
func New(t Transcoder, a Analyzer, outputDir string, logger *logging.Logger, opts ...Option) *Executors {
	e := &Executors{
		transcoder: t,
		analyzer:   a,
		outputDir:  outputDir,
		logger:     logger.WithComponent("jobs"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register binds every job type to its executor
func (e *Executors) Register(q *scheduler.Queue) {
	q.Register(models.JobTypeVideoTranscode, scheduler.ExecutorFunc(e.Transcode))
	q.Register(models.JobTypePoseAnalysis, scheduler.ExecutorFunc(e.PoseAnalysis))
	q.Register(models.JobTypeAIAnalysis, scheduler.ExecutorFunc(e.AIAnalysis))
}

// Transcode handles video-transcode jobs
func (e *Executors) Transcode(ctx context.Context, job *models.Job) (interface{}, error) {
	var payload models.TranscodePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil, fmt.Errorf("invalid transcode payload: %w", err)
	}
	if payload.InputPath == "" {
		return nil, errMissingInput
	}
	quality, err := models.ParseQuality(string(payload.Quality))
	if err != nil {
		return nil, err
	}

	result := e.transcoder.ProcessVideo(ctx, transcoder.ProcessOptions{
		InputPath: payload.InputPath,
		Quality:   quality,
		FrameRate: payload.FrameRate,
	})
	if !result.Success {
		if result.Err != nil {
			return nil, result.Err
		}
		return nil, errors.New(result.Error)
	}

	if result.Frames != nil {
		// paths are reported through FrameDir; the sequence itself is not serializable
		result.FrameCount = result.Frames.Len()
		result.Frames = nil
	}

	if e.uploader != nil {
		keys, err := e.uploader.UploadArtifacts(ctx, path.Join("jobs", job.ID), map[string]string{
			"video":     result.OutputPath,
			"thumbnail": result.ThumbnailPath,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to upload artifacts: %w", err)
		}
		result.Artifacts = keys
	}

	e.logger.WithJobID(job.ID).WithField("output", result.OutputPath).Info("Transcode finished")
	return result, nil
}

func decodePosePayload(job *models.Job) (models.PoseAnalysisPayload, error) {
	var payload models.PoseAnalysisPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return payload, fmt.Errorf("invalid %s payload: %w", job.Type, err)
	}
	if payload.InputPath == "" {
		return payload, errMissingInput
	}
	if payload.FrameRate < 0 {
		return payload, fmt.Errorf("frameRate must be positive, got %v", payload.FrameRate)
	}
	if payload.FrameRate == 0 {
		payload.FrameRate = DefaultPoseFrameRate
	}
	return payload, nil
}
