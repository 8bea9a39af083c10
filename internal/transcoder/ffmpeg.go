package transcoder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/poseflow/internal/logging"
	"github.com/therealutkarshpriyadarshi/poseflow/internal/metrics"
	"github.com/therealutkarshpriyadarshi/poseflow/pkg/models"
)

// FFmpeg wraps FFmpeg operations
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
	runner      CommandRunner
	logger      *logging.Logger
}

// NewFFmpegWithRunner creates an FFmpeg instance that runs tools through runner
func NewFFmpegWithRunner(ffmpegPath, ffprobePath string, runner CommandRunner, logger *logging.Logger) *FFmpeg {
	return &FFmpeg{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		runner:      runner,
		logger:      logger,
	}
}

// probeOutput mirrors the subset of ffprobe's JSON we read
type probeOutput struct {
	Format  formatInfo   `json:"format"`
	Streams []streamInfo `json:"streams"`
}

type formatInfo struct {
	Filename   string `json:"filename"`
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	BitRate    string `json:"bit_rate"`
}

type streamInfo struct {
	CodecType    string `json:"codec_type"`
	CodecName    string `json:"codec_name"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	BitRate      string `json:"bit_rate"`
	FrameRate    string `json:"r_frame_rate"`
	AvgFrameRate string `json:"avg_frame_rate"`
	Duration     string `json:"duration"`
}

// encodeProfile holds the encoder parameters of a quality tier
type encodeProfile struct {
	preset       string
	crf          int
	audioBitrate string
}

// Faster presets trade compression efficiency for encode speed
var qualityProfiles = map[models.Quality]encodeProfile{
	models.QualityLow:    {preset: "veryfast", crf: 28, audioBitrate: "96k"},
	models.QualityMedium: {preset: "medium", crf: 23, audioBitrate: "128k"},
	models.QualityHigh:   {preset: "slow", crf: 18, audioBitrate: "192k"},
}

func (f *FFmpeg) run(ctx context.Context, op, tool string, args ...string) ([]byte, error) {
	start := time.Now()
	out, err := f.runner.Run(ctx, tool, args...)
	elapsed := time.Since(start)

	f.logger.LogToolInvocation(tool, args, elapsed, err)
	metrics.RecordToolInvocation(filepath.Base(tool), op, err, elapsed.Seconds())
	return out, err
}

// CheckTools verifies both binaries can be started
func (f *FFmpeg) CheckTools(ctx context.Context) error {
	for _, tool := range []string{f.ffmpegPath, f.ffprobePath} {
		if _, err := f.run(ctx, "version", tool, "-version"); err != nil {
			var unavailable *ToolUnavailableError
			if errors.As(err, &unavailable) {
				return err
			}
			return &ToolUnavailableError{Tool: tool, Err: err}
		}
	}
	return nil
}

// ExtractMetadata probes a video and returns its metadata
func (f *FFmpeg) ExtractMetadata(ctx context.Context, inputPath string) (*models.VideoMetadata, error) {
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		inputPath,
	}

	out, err := f.run(ctx, "probe", f.ffprobePath, args...)
	if err != nil {
		return nil, &MetadataExtractionError{Path: inputPath, Err: err}
	}

	metadata, err := parseProbeOutput(out)
	if err != nil {
		return nil, &MetadataExtractionError{Path: inputPath, Err: err}
	}
	return metadata, nil
}

func parseProbeOutput(out []byte) (*models.VideoMetadata, error) {
	var probe probeOutput
	if err := json.Unmarshal(out, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	var video *streamInfo
	for i := range probe.Streams {
		if probe.Streams[i].CodecType == "video" {
			video = &probe.Streams[i]
			break
		}
	}
	if video == nil {
		return nil, errors.New("no video stream found")
	}

	metadata := &models.VideoMetadata{
		Width:  video.Width,
		Height: video.Height,
		Codec:  video.CodecName,
		Format: probe.Format.FormatName,
	}

	if duration, err := strconv.ParseFloat(probe.Format.Duration, 64); err == nil {
		metadata.Duration = duration
	} else if duration, err := strconv.ParseFloat(video.Duration, 64); err == nil {
		metadata.Duration = duration
	}

	if size, err := strconv.ParseInt(probe.Format.Size, 10, 64); err == nil {
		metadata.Size = size
	}

	if bitrate, err := strconv.ParseInt(probe.Format.BitRate, 10, 64); err == nil {
		metadata.Bitrate = bitrate
	} else if bitrate, err := strconv.ParseInt(video.BitRate, 10, 64); err == nil {
		metadata.Bitrate = bitrate
	}

	// r_frame_rate is the stream timebase for variable-rate inputs
	if fps, ok := parseRational(video.AvgFrameRate); ok {
		metadata.FrameRate = fps
	} else if fps, ok := parseRational(video.FrameRate); ok {
		metadata.FrameRate = fps
	}

	return metadata, nil
}

// parseRational parses frame rates such as "30000/1001" or "25"
func parseRational(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}

	num, den, found := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, false
	}
	if !found {
		return n, n > 0
	}

	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0, false
	}
	return n / d, n > 0
}

// Optimize re-encodes a video with the encoder parameters of the given quality tier
func (f *FFmpeg) Optimize(ctx context.Context, inputPath, outputDir string, quality models.Quality) (string, error) {
	profile, ok := qualityProfiles[quality]
	if !ok {
		return "", &TranscodeError{Op: "optimize", Path: inputPath, Err: fmt.Errorf("unknown quality %q", quality)}
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", &TranscodeError{Op: "optimize", Path: inputPath, Err: fmt.Errorf("failed to create output directory: %w", err)}
	}

	outputPath := filepath.Join(outputDir, fmt.Sprintf("%s_%s.mp4", stem(inputPath), quality))

	args := []string{
		"-i", inputPath,
		"-y", // overwrite output
		"-c:v", "libx264",
		"-preset", profile.preset,
		"-crf", strconv.Itoa(profile.crf),
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-b:a", profile.audioBitrate,
		"-movflags", "+faststart",
		outputPath,
	}

	if _, err := f.run(ctx, "optimize", f.ffmpegPath, args...); err != nil {
		os.Remove(outputPath)
		return "", &TranscodeError{Op: "optimize", Path: inputPath, Err: err}
	}

	return outputPath, nil
}

// GenerateThumbnail extracts a single frame at offset seconds into the video
func (f *FFmpeg) GenerateThumbnail(ctx context.Context, inputPath, outputDir string, offset float64) (string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", &TranscodeError{Op: "thumbnail", Path: inputPath, Err: fmt.Errorf("failed to create output directory: %w", err)}
	}

	outputPath := filepath.Join(outputDir, stem(inputPath)+"_thumb.jpg")

	args := []string{
		"-ss", fmt.Sprintf("%.2f", offset),
		"-i", inputPath,
		"-vframes", "1",
		"-q:v", "2",
		"-y",
		outputPath,
	}

	if _, err := f.run(ctx, "thumbnail", f.ffmpegPath, args...); err != nil {
		return "", &TranscodeError{Op: "thumbnail", Path: inputPath, Err: err}
	}

	return outputPath, nil
}

// ExtractFrames samples the video at frameRate frames per second into a fresh
// directory under tempDir. The caller owns the returned sequence and its directory.
func (f *FFmpeg) ExtractFrames(ctx context.Context, inputPath, tempDir string, frameRate float64) (*models.FrameSequence, error) {
	if frameRate <= 0 {
		return nil, &FrameExtractionError{Path: inputPath, Err: fmt.Errorf("frame rate must be positive, got %v", frameRate)}
	}

	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return nil, &FrameExtractionError{Path: inputPath, Err: err}
	}
	frameDir, err := os.MkdirTemp(tempDir, "frames-")
	if err != nil {
		return nil, &FrameExtractionError{Path: inputPath, Err: err}
	}

	args := []string{
		"-i", inputPath,
		"-vf", fmt.Sprintf("fps=%s", strconv.FormatFloat(frameRate, 'f', -1, 64)),
		"-q:v", "2",
		"-y",
		filepath.Join(frameDir, "frame_%06d.jpg"),
	}

	if _, err := f.run(ctx, "frames", f.ffmpegPath, args...); err != nil {
		os.RemoveAll(frameDir)
		return nil, &FrameExtractionError{Path: inputPath, Err: err}
	}

	frames, err := filepath.Glob(filepath.Join(frameDir, "frame_*.jpg"))
	if err != nil {
		os.RemoveAll(frameDir)
		return nil, &FrameExtractionError{Path: inputPath, Err: err}
	}
	if len(frames) == 0 {
		os.RemoveAll(frameDir)
		return nil, &FrameExtractionError{Path: inputPath, Err: errors.New("no frames extracted")}
	}
	// zero-padded names sort in frame order
	sort.Strings(frames)

	return models.NewFrameSequence(frameDir, frames), nil
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
