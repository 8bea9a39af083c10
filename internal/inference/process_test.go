package inference

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/therealutkarshpriyadarshi/poseflow/internal/config"
	"github.com/therealutkarshpriyadarshi/poseflow/internal/logging"
	"github.com/therealutkarshpriyadarshi/poseflow/pkg/models"
)

// TestHelperProcess is not a real test. It acts as the model process
// when the test binary is re-executed with POSEFLOW_HELPER_MODEL set.
func TestHelperProcess(t *testing.T) {
	mode := os.Getenv("POSEFLOW_HELPER_MODEL")
	if mode == "" {
		return
	}
	defer os.Exit(0)

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	out := json.NewEncoder(os.Stdout)

	for scanner.Scan() {
		var req request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			fmt.Println("not json")
			continue
		}
		switch {
		case mode == "fail-load" && req.Op == "load":
			out.Encode(response{ID: req.ID, Error: "weights not found"})
		case mode == "crash" && req.Op == "estimate":
			os.Exit(2)
		case mode == "hang" && req.Op == "estimate":
			// never answers
		case req.Op == "load":
			out.Encode(response{ID: req.ID})
		default:
			out.Encode(response{ID: req.ID, Poses: []models.Pose{{
				Score:     0.75,
				Keypoints: []models.Keypoint{{Part: "nose", Position: models.Position{X: float64(req.Width), Y: float64(req.Height)}, Score: req.Config.ScoreThreshold}},
			}}})
		}
	}
}

func startHelper(t *testing.T, mode string) (Model, error) {
	t.Helper()
	t.Setenv("POSEFLOW_HELPER_MODEL", mode)
	loader := NewProcessLoader(config.InferenceConfig{
		Command: os.Args[0],
		Args:    []string{"-test.run=TestHelperProcess"},
	}, logging.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return loader(ctx, models.DefaultModelConfig())
}

func TestProcessModelEstimate(t *testing.T) {
	model, err := startHelper(t, "ok")
	require.NoError(t, err)
	defer model.Close()

	params := models.DefaultModelConfig()
	params.ScoreThreshold = 0.3

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for i := 0; i < 3; i++ {
		poses, err := model.EstimatePoses(ctx, frame, params)
		require.NoError(t, err)
		require.Len(t, poses, 1)
		assert.Equal(t, 0.75, poses[0].Score)
		assert.Equal(t, 8.0, poses[0].Keypoints[0].Position.X)
		assert.Equal(t, 0.3, poses[0].Keypoints[0].Score)
	}
}

func TestProcessModelLoadFailure(t *testing.T) {
	_, err := startHelper(t, "fail-load")
	assert.ErrorContains(t, err, "weights not found")
}

func TestProcessModelCrash(t *testing.T) {
	model, err := startHelper(t, "crash")
	require.NoError(t, err)
	defer model.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err = model.EstimatePoses(ctx, frame, models.DefaultModelConfig())
	assert.ErrorIs(t, err, ErrModelClosed)

	_, err = model.EstimatePoses(ctx, frame, models.DefaultModelConfig())
	assert.ErrorIs(t, err, ErrModelClosed)
}

func TestProcessModelContextTimeout(t *testing.T) {
	model, err := startHelper(t, "hang")
	require.NoError(t, err)
	defer model.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = model.EstimatePoses(ctx, frame, models.DefaultModelConfig())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestProcessModelRequestTimeout(t *testing.T) {
	t.Setenv("POSEFLOW_HELPER_MODEL", "hang")
	model, err := StartProcessModel(context.Background(), config.InferenceConfig{
		Command:        os.Args[0],
		Args:           []string{"-test.run=TestHelperProcess"},
		RequestTimeout: 50 * time.Millisecond,
	}, models.DefaultModelConfig(), logging.NewNop())
	require.NoError(t, err)
	defer model.Close()

	_, err = model.EstimatePoses(context.Background(), frame, models.DefaultModelConfig())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestProcessModelMissingCommand(t *testing.T) {
	_, err := StartProcessModel(context.Background(), config.InferenceConfig{}, models.DefaultModelConfig(), logging.NewNop())
	assert.Error(t, err)

	_, err = StartProcessModel(context.Background(), config.InferenceConfig{Command: "/nonexistent/pose-model"}, models.DefaultModelConfig(), logging.NewNop())
	assert.Error(t, err)
}
