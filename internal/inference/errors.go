package inference

import (
	"fmt"

	"github.com/therealutkarshpriyadarshi/poseflow/pkg/models"
)

// DecodeError means a frame payload could not be turned into an image
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode frame: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// InferenceError means the model failed on a decoded frame
type InferenceError struct {
	Err error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference failed: %v", e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

// ConfigReloadError means a model could not be loaded for the requested configuration.
// The previously loaded model stays in service.
type ConfigReloadError struct {
	Config models.ModelConfig
	Err    error
}

func (e *ConfigReloadError) Error() string {
	return fmt.Sprintf("failed to load %s model (stride %d, resolution %d): %v",
		e.Config.Architecture, e.Config.OutputStride, e.Config.InputResolution, e.Err)
}

func (e *ConfigReloadError) Unwrap() error { return e.Err }
