package transcoder

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/therealutkarshpriyadarshi/poseflow/internal/config"
	"github.com/therealutkarshpriyadarshi/poseflow/internal/logging"
	"github.com/therealutkarshpriyadarshi/poseflow/internal/tracing"
	"github.com/therealutkarshpriyadarshi/poseflow/pkg/models"
)

// ProcessOptions describes one transcoder invocation
type ProcessOptions struct {
	InputPath string
	Quality   models.Quality
	FrameRate float64 // 0 skips frame extraction
	OutputDir string  // defaults to a fresh directory under the configured output dir
}

// Service orchestrates transcoding operations
type Service struct {
	ffmpeg *FFmpeg
	cfg    config.TranscoderConfig
	logger *logging.Logger
}

// NewService creates a new transcoder service
func NewService(cfg config.TranscoderConfig, runner CommandRunner, logger *logging.Logger) *Service {
	logger = logger.WithComponent("transcoder")
	return &Service{
		ffmpeg: NewFFmpegWithRunner(cfg.FFmpegPath, cfg.FFprobePath, runner, logger),
		cfg:    cfg,
		logger: logger,
	}
}

// CheckTools verifies the configured binaries are runnable
func (s *Service) CheckTools(ctx context.Context) error {
	return s.ffmpeg.CheckTools(ctx)
}

// ExtractMetadata probes a video
func (s *Service) ExtractMetadata(ctx context.Context, inputPath string) (*models.VideoMetadata, error) {
	return s.ffmpeg.ExtractMetadata(ctx, inputPath)
}

// ExtractFrames samples frames into a temporary directory under the configured temp dir
func (s *Service) ExtractFrames(ctx context.Context, inputPath string, frameRate float64) (*models.FrameSequence, error) {
	return s.ffmpeg.ExtractFrames(ctx, inputPath, s.cfg.TempDir, frameRate)
}

// ProcessVideo probes, optimizes, thumbnails and optionally samples frames from a video.
// The first failing step short-circuits the rest. Errors are reported in the result, never returned.
func (s *Service) ProcessVideo(ctx context.Context, opts ProcessOptions) models.ProcessingResult {
	span, ctx := tracing.StartSpan(ctx, "transcoder.ProcessVideo")
	defer tracing.FinishSpan(span)
	tracing.SetTag(span, "input", opts.InputPath)
	tracing.SetTag(span, "quality", string(opts.Quality))

	start := time.Now()
	log := s.logger.WithField("input", opts.InputPath)

	fail := func(err error, cleanup ...string) models.ProcessingResult {
		for _, p := range cleanup {
			os.Remove(p)
		}
		tracing.LogError(span, err)
		log.ErrorWithErr("video processing failed", err)
		return models.ProcessingResult{Success: false, Error: err.Error(), Err: err}
	}

	quality := opts.Quality
	if quality == "" {
		quality = models.QualityMedium
	}

	outputDir := opts.OutputDir
	if outputDir == "" {
		outputDir = filepath.Join(s.cfg.OutputDir, uuid.New().String())
	}

	metadata, err := s.ffmpeg.ExtractMetadata(ctx, opts.InputPath)
	if err != nil {
		return fail(err)
	}

	outputPath, err := s.ffmpeg.Optimize(ctx, opts.InputPath, outputDir, quality)
	if err != nil {
		return fail(err)
	}

	thumbnailPath, err := s.ffmpeg.GenerateThumbnail(ctx, opts.InputPath, outputDir, s.thumbnailOffset(metadata.Duration))
	if err != nil {
		return fail(err, outputPath)
	}

	result := models.ProcessingResult{
		Success:       true,
		OutputPath:    outputPath,
		ThumbnailPath: thumbnailPath,
		Metadata:      metadata,
	}

	if opts.FrameRate > 0 {
		frames, err := s.ffmpeg.ExtractFrames(ctx, opts.InputPath, s.cfg.TempDir, opts.FrameRate)
		if err != nil {
			return fail(err, outputPath, thumbnailPath)
		}
		result.Frames = frames
		result.FrameDir = frames.Dir()
		result.FrameCount = frames.Len()
	}

	log.WithFields(map[string]interface{}{
		"output":      outputPath,
		"frames":      result.FrameCount,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("video processed")

	return result
}

// thumbnailOffset picks the configured offset, or the midpoint for videos shorter than it
func (s *Service) thumbnailOffset(duration float64) float64 {
	offset := s.cfg.ThumbnailOffset.Seconds()
	if offset <= 0 {
		offset = 2
	}
	if duration > 0 && duration < offset {
		return duration / 2
	}
	return offset
}
