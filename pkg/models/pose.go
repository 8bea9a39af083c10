package models

import "fmt"

// KeypointNames lists the anatomical parts reported for every pose, in model output order
var KeypointNames = []string{
	"nose",
	"leftEye",
	"rightEye",
	"leftEar",
	"rightEar",
	"leftShoulder",
	"rightShoulder",
	"leftElbow",
	"rightElbow",
	"leftWrist",
	"rightWrist",
	"leftHip",
	"rightHip",
	"leftKnee",
	"rightKnee",
	"leftAnkle",
	"rightAnkle",
}

// Architecture constants
const (
	ArchitectureMobileNetV1 = "MobileNetV1"
	ArchitectureResNet50    = "ResNet50"
)

// ModelConfig is the full inference configuration of a session.
// It is always replaced as a whole, never mutated in place.
type ModelConfig struct {
	Architecture    string  `json:"architecture" mapstructure:"architecture"`
	OutputStride    int     `json:"outputStride" mapstructure:"outputStride"`
	InputResolution int     `json:"inputResolution" mapstructure:"inputResolution"`
	Multiplier      float64 `json:"multiplier" mapstructure:"multiplier"`
	QuantBytes      int     `json:"quantBytes" mapstructure:"quantBytes"`
	ScoreThreshold  float64 `json:"scoreThreshold" mapstructure:"scoreThreshold"`
	MaxDetections   int     `json:"maxDetections" mapstructure:"maxDetections"`
	NMSRadius       int     `json:"nmsRadius" mapstructure:"nmsRadius"`
}

// DefaultModelConfig returns the configuration used when nothing else is configured
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		Architecture:    ArchitectureMobileNetV1,
		OutputStride:    16,
		InputResolution: 257,
		Multiplier:      0.75,
		QuantBytes:      2,
		ScoreThreshold:  0.5,
		MaxDetections:   5,
		NMSRadius:       20,
	}
}

// RequiresReload reports whether switching from c to next needs a model reload
func (c ModelConfig) RequiresReload(next ModelConfig) bool {
	return c.Architecture != next.Architecture ||
		c.OutputStride != next.OutputStride ||
		c.InputResolution != next.InputResolution ||
		c.Multiplier != next.Multiplier ||
		c.QuantBytes != next.QuantBytes
}

// Validate checks the fields the model cannot run without
func (c ModelConfig) Validate() error {
	switch c.Architecture {
	case ArchitectureMobileNetV1, ArchitectureResNet50:
	default:
		return fmt.Errorf("unsupported architecture %q", c.Architecture)
	}
	if c.InputResolution <= 0 {
		return fmt.Errorf("inputResolution must be positive, got %d", c.InputResolution)
	}
	if c.OutputStride <= 0 {
		return fmt.Errorf("outputStride must be positive, got %d", c.OutputStride)
	}
	if c.Multiplier <= 0 {
		return fmt.Errorf("multiplier must be positive, got %v", c.Multiplier)
	}
	if c.MaxDetections <= 0 {
		return fmt.Errorf("maxDetections must be positive, got %d", c.MaxDetections)
	}
	return nil
}

// ConfigPatch is a partial update to a ModelConfig; nil fields are left unchanged
type ConfigPatch struct {
	Architecture    *string  `json:"architecture,omitempty"`
	OutputStride    *int     `json:"outputStride,omitempty"`
	InputResolution *int     `json:"inputResolution,omitempty"`
	Multiplier      *float64 `json:"multiplier,omitempty"`
	QuantBytes      *int     `json:"quantBytes,omitempty"`
	ScoreThreshold  *float64 `json:"scoreThreshold,omitempty"`
	MaxDetections   *int     `json:"maxDetections,omitempty"`
	NMSRadius       *int     `json:"nmsRadius,omitempty"`
}

// Apply returns a new config with the patch merged over c
func (p ConfigPatch) Apply(c ModelConfig) ModelConfig {
	if p.Architecture != nil {
		c.Architecture = *p.Architecture
	}
	if p.OutputStride != nil {
		c.OutputStride = *p.OutputStride
	}
	if p.InputResolution != nil {
		c.InputResolution = *p.InputResolution
	}
	if p.Multiplier != nil {
		c.Multiplier = *p.Multiplier
	}
	if p.QuantBytes != nil {
		c.QuantBytes = *p.QuantBytes
	}
	if p.ScoreThreshold != nil {
		c.ScoreThreshold = *p.ScoreThreshold
	}
	if p.MaxDetections != nil {
		c.MaxDetections = *p.MaxDetections
	}
	if p.NMSRadius != nil {
		c.NMSRadius = *p.NMSRadius
	}
	return c
}

// Position is a 2D point in image pixel coordinates
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Keypoint is a named anatomical point with a confidence score
type Keypoint struct {
	Part     string   `json:"part"`
	Position Position `json:"position"`
	Score    float64  `json:"score"`
}

// Pose is one detected person
type Pose struct {
	Score     float64    `json:"score"`
	Keypoints []Keypoint `json:"keypoints"`
}

// PoseEstimationResult is the per-frame inference output
type PoseEstimationResult struct {
	Timestamp      int64   `json:"timestamp"`
	Poses          []Pose  `json:"poses"`
	ProcessingTime float64 `json:"processingTime"` // milliseconds
}
