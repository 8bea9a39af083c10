package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/therealutkarshpriyadarshi/poseflow/internal/inference"
	"github.com/therealutkarshpriyadarshi/poseflow/internal/tracing"
	"github.com/therealutkarshpriyadarshi/poseflow/pkg/models"
)

// ErrNoFramesAnalyzed is returned when every sampled frame failed
var ErrNoFramesAnalyzed = errors.New("no frames could be analyzed")

// PoseAnalysisResult is the job result of a pose-analysis job.
// Per-frame results are written to ResultsPath rather than kept in the job.
type PoseAnalysisResult struct {
	FrameCount          int               `json:"frameCount"`
	AnalyzedFrames      int               `json:"analyzedFrames"`
	FailedFrames        int               `json:"failedFrames"`
	FramesWithPoses     int               `json:"framesWithPoses"`
	FrameRate           float64           `json:"frameRate"`
	ResultsPath         string            `json:"resultsPath"`
	TotalProcessingTime float64           `json:"totalProcessingTime"` // milliseconds
	AverageFrameTime    float64           `json:"averageFrameTime"`    // milliseconds
	Artifacts           map[string]string `json:"artifacts,omitempty"`
}

// MovementSummary aggregates pose results over a whole video
type MovementSummary struct {
	DetectionRate      float64            `json:"detectionRate"`
	MeanPoseScore      float64            `json:"meanPoseScore"`
	MeanPosesPerFrame  float64            `json:"meanPosesPerFrame"`
	KeypointConfidence map[string]float64 `json:"keypointConfidence"`
	MostVisible        []string           `json:"mostVisible"`
}

// AIAnalysisResult is the job result of an ai-analysis job
type AIAnalysisResult struct {
	PoseAnalysisResult
	Summary MovementSummary `json:"summary"`
}

// mostVisibleCount bounds MovementSummary.MostVisible
const mostVisibleCount = 5

// PoseAnalysis handles pose-analysis jobs
func (e *Executors) PoseAnalysis(ctx context.Context, job *models.Job) (interface{}, error) {
	result, _, err := e.analyzeVideo(ctx, job)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// AIAnalysis handles ai-analysis jobs: pose analysis followed by a movement summary
func (e *Executors) AIAnalysis(ctx context.Context, job *models.Job) (interface{}, error) {
	result, frames, err := e.analyzeVideo(ctx, job)
	if err != nil {
		return nil, err
	}
	return &AIAnalysisResult{
		PoseAnalysisResult: *result,
		Summary:            Summarize(frames),
	}, nil
}

func (e *Executors) analyzeVideo(ctx context.Context, job *models.Job) (*PoseAnalysisResult, []models.PoseEstimationResult, error) {
	span, ctx := tracing.StartSpan(ctx, "jobs.analyzeVideo")
	defer tracing.FinishSpan(span)
	tracing.SetTag(span, "job_id", job.ID)

	payload, err := decodePosePayload(job)
	if err != nil {
		return nil, nil, err
	}

	params := e.analyzer.Config()
	if payload.Config != nil {
		next := payload.Config.Apply(params)
		if params.RequiresReload(next) {
			return nil, nil, fmt.Errorf("job config requests %s but the loaded model is %s; model changes go through update_config",
				next.Architecture, params.Architecture)
		}
		params = next
	}

	frames, err := e.transcoder.ExtractFrames(ctx, payload.InputPath, payload.FrameRate)
	if err != nil {
		tracing.LogError(span, err)
		return nil, nil, err
	}
	defer frames.Remove()

	log := e.logger.WithJobID(job.ID)
	summary := &PoseAnalysisResult{
		FrameCount: frames.Len(),
		FrameRate:  payload.FrameRate,
	}
	results := make([]models.PoseEstimationResult, 0, frames.Len())
	start := time.Now()

	for i, framePath := range frames.All() {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		timestamp := int64(float64(i) / payload.FrameRate * 1000)
		img, err := inference.DecodeFile(framePath)
		var res *models.PoseEstimationResult
		if err == nil {
			res, err = e.analyzer.Analyze(ctx, img, params, timestamp)
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			log.WarnWithErr(fmt.Sprintf("Skipping frame %d", i), err)
			summary.FailedFrames++
			continue
		}

		summary.AnalyzedFrames++
		summary.TotalProcessingTime += res.ProcessingTime
		if len(res.Poses) > 0 {
			summary.FramesWithPoses++
		}
		results = append(results, *res)
	}

	if summary.FrameCount > 0 && summary.AnalyzedFrames == 0 {
		return nil, nil, ErrNoFramesAnalyzed
	}
	if summary.AnalyzedFrames > 0 {
		summary.AverageFrameTime = summary.TotalProcessingTime / float64(summary.AnalyzedFrames)
	}

	resultsPath, err := e.writeResults(job.ID, results)
	if err != nil {
		return nil, nil, err
	}
	summary.ResultsPath = resultsPath

	if e.uploader != nil {
		keys, err := e.uploader.UploadArtifacts(ctx, path.Join("jobs", job.ID), map[string]string{"poses": resultsPath})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to upload results: %w", err)
		}
		summary.Artifacts = keys
	}

	e.logger.LogJobEvent(job.ID, "analysis_finished", string(job.Status), map[string]interface{}{
		"frames":      summary.AnalyzedFrames,
		"failed":      summary.FailedFrames,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return summary, results, nil
}

func (e *Executors) writeResults(jobID string, results []models.PoseEstimationResult) (string, error) {
	dir := filepath.Join(e.outputDir, jobID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create results directory: %w", err)
	}

	data, err := json.Marshal(results)
	if err != nil {
		return "", fmt.Errorf("failed to marshal results: %w", err)
	}

	resultsPath := filepath.Join(dir, "poses.json")
	if err := os.WriteFile(resultsPath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write results: %w", err)
	}
	return resultsPath, nil
}

// Summarize computes movement statistics over per-frame results
func Summarize(results []models.PoseEstimationResult) MovementSummary {
	summary := MovementSummary{KeypointConfidence: make(map[string]float64)}
	if len(results) == 0 {
		summary.MostVisible = []string{}
		return summary
	}

	var detected, poses int
	var scoreSum float64
	keypointSum := make(map[string]float64)
	keypointN := make(map[string]int)

	for _, r := range results {
		if len(r.Poses) > 0 {
			detected++
		}
		for _, p := range r.Poses {
			poses++
			scoreSum += p.Score
			for _, kp := range p.Keypoints {
				keypointSum[kp.Part] += kp.Score
				keypointN[kp.Part]++
			}
		}
	}

	summary.DetectionRate = float64(detected) / float64(len(results))
	summary.MeanPosesPerFrame = float64(poses) / float64(len(results))
	if poses > 0 {
		summary.MeanPoseScore = scoreSum / float64(poses)
	}

	parts := make([]string, 0, len(keypointSum))
	for part, sum := range keypointSum {
		summary.KeypointConfidence[part] = sum / float64(keypointN[part])
		parts = append(parts, part)
	}
	sort.Slice(parts, func(i, j int) bool {
		ci, cj := summary.KeypointConfidence[parts[i]], summary.KeypointConfidence[parts[j]]
		if ci != cj {
			return ci > cj
		}
		return parts[i] < parts[j]
	})
	if len(parts) > mostVisibleCount {
		parts = parts[:mostVisibleCount]
	}
	summary.MostVisible = parts
	return summary
}
