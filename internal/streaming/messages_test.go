package streaming

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/therealutkarshpriyadarshi/poseflow/pkg/models"
)

func TestParseClientMessage(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  ClientMessage
	}{
		{
			name:  "analyze frame",
			input: `{"type":"analyze_frame","data":{"image":"abc","timestamp":42,"flipHorizontal":true,"frameId":7}}`,
			want:  AnalyzeFrame{Image: "abc", Timestamp: 42, FlipHorizontal: true, FrameID: []byte("7")},
		},
		{
			name:  "analyze video",
			input: `{"type":"analyze_video","data":{"frames":[{"image":"a"},{"image":"b","timestamp":5}]}}`,
			want:  AnalyzeVideo{Frames: []VideoFrame{{Image: "a"}, {Image: "b", Timestamp: 5}}},
		},
		{
			name:  "update config",
			input: `{"type":"update_config","data":{"architecture":"ResNet50","maxDetections":2}}`,
			want: UpdateConfig{Patch: models.ConfigPatch{
				Architecture:  ptr("ResNet50"),
				MaxDetections: ptr(2),
			}},
		},
		{
			name:  "metrics without data",
			input: `{"type":"get_performance_metrics"}`,
			want:  GetPerformanceMetrics{},
		},
		{
			name:  "video with null data",
			input: `{"type":"analyze_video","data":null}`,
			want:  AnalyzeVideo{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := ParseClientMessage([]byte(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.want, msg)
		})
	}
}

func TestParseClientMessageErrors(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"train_model","data":{}}`))
	var unknown *UnknownMessageTypeError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "train_model", unknown.Type)

	for _, input := range []string{
		`not json`,
		`{"data":{}}`,
		`{"type":"analyze_frame","data":{"image":5}}`,
		`{"type":"update_config","data":{"multiplier":"big"}}`,
	} {
		_, err := ParseClientMessage([]byte(input))
		assert.Error(t, err, input)
		assert.False(t, errors.As(err, &unknown), input)
	}
}

func ptr[T any](v T) *T { return &v }
