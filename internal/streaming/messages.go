package streaming

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/therealutkarshpriyadarshi/poseflow/pkg/models"
)

// Client message types
const (
	TypeAnalyzeFrame          = "analyze_frame"
	TypeAnalyzeVideo          = "analyze_video"
	TypeUpdateConfig          = "update_config"
	TypeGetPerformanceMetrics = "get_performance_metrics"
)

// Server message types
const (
	TypeConfig                = "config"
	TypePoseResult            = "pose_result"
	TypeVideoAnalysisStarted  = "video_analysis_started"
	TypeVideoAnalysisProgress = "video_analysis_progress"
	TypeVideoAnalysisComplete = "video_analysis_complete"
	TypeConfigUpdated         = "config_updated"
	TypePerformanceMetrics    = "performance_metrics"
	TypeError                 = "error"
)

// Envelope is the wire format of every message in both directions
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// UnknownMessageTypeError is returned for a message type the server does not handle
type UnknownMessageTypeError struct {
	Type string
}

func (e *UnknownMessageTypeError) Error() string {
	return fmt.Sprintf("unknown message type %q", e.Type)
}

// ClientMessage is one of AnalyzeFrame, AnalyzeVideo, UpdateConfig or GetPerformanceMetrics
type ClientMessage interface {
	messageType() string
}

// AnalyzeFrame requests pose estimation on one image
type AnalyzeFrame struct {
	Image          string          `json:"image"`
	Timestamp      int64           `json:"timestamp,omitempty"`
	FlipHorizontal bool            `json:"flipHorizontal,omitempty"`
	FrameID        json.RawMessage `json:"frameId,omitempty"`
}

// VideoFrame is one frame of an AnalyzeVideo request
type VideoFrame struct {
	Image     string `json:"image"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// AnalyzeVideo requests pose estimation on an ordered sequence of frames
type AnalyzeVideo struct {
	Frames []VideoFrame `json:"frames"`
}

// UpdateConfig merges a partial configuration into the session
type UpdateConfig struct {
	Patch models.ConfigPatch
}

// GetPerformanceMetrics requests server statistics
type GetPerformanceMetrics struct{}

func (AnalyzeFrame) messageType() string          { return TypeAnalyzeFrame }
func (AnalyzeVideo) messageType() string          { return TypeAnalyzeVideo }
func (UpdateConfig) messageType() string          { return TypeUpdateConfig }
func (GetPerformanceMetrics) messageType() string { return TypeGetPerformanceMetrics }

var errMissingType = errors.New("message has no type")

// ParseClientMessage decodes an envelope into its typed message
func ParseClientMessage(raw []byte) (ClientMessage, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid message: %w", err)
	}
	if env.Type == "" {
		return nil, errMissingType
	}

	var msg ClientMessage
	var err error
	switch env.Type {
	case TypeAnalyzeFrame:
		var m AnalyzeFrame
		err = decodeData(env.Data, &m)
		msg = m
	case TypeAnalyzeVideo:
		var m AnalyzeVideo
		err = decodeData(env.Data, &m)
		msg = m
	case TypeUpdateConfig:
		var m UpdateConfig
		err = decodeData(env.Data, &m.Patch)
		msg = m
	case TypeGetPerformanceMetrics:
		msg = GetPerformanceMetrics{}
	default:
		return nil, &UnknownMessageTypeError{Type: env.Type}
	}
	if err != nil {
		return nil, fmt.Errorf("invalid %s data: %w", env.Type, err)
	}
	return msg, nil
}

func decodeData(data json.RawMessage, v interface{}) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	return json.Unmarshal(data, v)
}

// PoseResult answers an AnalyzeFrame
type PoseResult struct {
	Result  *models.PoseEstimationResult `json:"result"`
	FrameID json.RawMessage              `json:"frameId,omitempty"`
}

// VideoAnalysisStarted opens an AnalyzeVideo response stream
type VideoAnalysisStarted struct {
	TotalFrames int `json:"totalFrames"`
}

// VideoAnalysisProgress reports AnalyzeVideo progress
type VideoAnalysisProgress struct {
	Processed int     `json:"processed"`
	Total     int     `json:"total"`
	Progress  float64 `json:"progress"` // percent
}

// VideoAnalysisComplete closes an AnalyzeVideo response stream
type VideoAnalysisComplete struct {
	Results             []models.PoseEstimationResult `json:"results"`
	FailedFrames        []int                         `json:"failedFrames,omitempty"`
	TotalProcessingTime float64                       `json:"totalProcessingTime"` // milliseconds
	AverageFrameTime    float64                       `json:"averageFrameTime"`    // milliseconds
}

// ConfigUpdated acknowledges an UpdateConfig
type ConfigUpdated struct {
	Config models.ModelConfig `json:"config"`
}

// MemoryUsage is process memory in bytes
type MemoryUsage struct {
	RSS       uint64 `json:"rss"`
	VMS       uint64 `json:"vms"`
	HeapAlloc uint64 `json:"heapAlloc"`
	HeapSys   uint64 `json:"heapSys"`
}

// PerformanceMetrics answers GetPerformanceMetrics
type PerformanceMetrics struct {
	ActiveConnections int                `json:"activeConnections"`
	ModelLoaded       bool               `json:"modelLoaded"`
	Uptime            float64            `json:"uptime"` // seconds
	Memory            MemoryUsage        `json:"memoryUsage"`
	Config            models.ModelConfig `json:"config"`
}

// ErrorMessage reports a failure to the requesting session
type ErrorMessage struct {
	Message string          `json:"message"`
	Details string          `json:"details,omitempty"`
	FrameID json.RawMessage `json:"frameId,omitempty"`
}
