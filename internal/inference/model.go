package inference

import (
	"context"
	"image"

	"github.com/therealutkarshpriyadarshi/poseflow/pkg/models"
)

// Model estimates poses on a single image.
// Implementations must be safe for concurrent EstimatePoses calls.
type Model interface {
	EstimatePoses(ctx context.Context, img image.Image, params models.ModelConfig) ([]models.Pose, error)
	Close() error
}

// Loader builds a model for a configuration
type Loader func(ctx context.Context, cfg models.ModelConfig) (Model, error)
