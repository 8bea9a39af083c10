package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordHTTPRequest(t *testing.T) {
	HTTPRequestsTotal.Reset()
	HTTPRequestDuration.Reset()

	RecordHTTPRequest("POST", "/api/v1/jobs", "202", 0.012)

	counter := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("POST", "/api/v1/jobs", "202"))
	if counter != 1.0 {
		t.Errorf("Expected counter to be 1.0, got %f", counter)
	}
}

func TestRecordJobLifecycle(t *testing.T) {
	JobsCreatedTotal.Reset()
	JobAttemptsTotal.Reset()
	JobsCompletedTotal.Reset()

	RecordJobCreated("video-transcode")
	RecordJobAttempt("video-transcode", "retry")
	RecordJobAttempt("video-transcode", "success")
	RecordJobCompleted("video-transcode", "completed", 12.5)

	if v := testutil.ToFloat64(JobsCreatedTotal.WithLabelValues("video-transcode")); v != 1.0 {
		t.Errorf("Expected 1 created job, got %f", v)
	}
	if v := testutil.ToFloat64(JobAttemptsTotal.WithLabelValues("video-transcode", "retry")); v != 1.0 {
		t.Errorf("Expected 1 retry attempt, got %f", v)
	}
	if v := testutil.ToFloat64(JobsCompletedTotal.WithLabelValues("video-transcode", "completed")); v != 1.0 {
		t.Errorf("Expected 1 completed job, got %f", v)
	}
}

func TestUpdateJobMetrics(t *testing.T) {
	UpdateJobMetrics(2, 7)

	if v := testutil.ToFloat64(JobsInProgress); v != 2.0 {
		t.Errorf("Expected jobs in progress to be 2.0, got %f", v)
	}
	if v := testutil.ToFloat64(JobsQueueDepth); v != 7.0 {
		t.Errorf("Expected queue depth to be 7.0, got %f", v)
	}
}

func TestRecordToolInvocation(t *testing.T) {
	ToolInvocationsTotal.Reset()

	RecordToolInvocation("ffmpeg", "optimize", nil, 3.2)
	RecordToolInvocation("ffmpeg", "optimize", errors.New("exit status 1"), 0.4)

	if v := testutil.ToFloat64(ToolInvocationsTotal.WithLabelValues("ffmpeg", "optimize", "success")); v != 1.0 {
		t.Errorf("Expected 1 successful invocation, got %f", v)
	}
	if v := testutil.ToFloat64(ToolInvocationsTotal.WithLabelValues("ffmpeg", "optimize", "error")); v != 1.0 {
		t.Errorf("Expected 1 failed invocation, got %f", v)
	}
}

func TestStreamingMetrics(t *testing.T) {
	FramesAnalyzedTotal.Reset()
	ModelReloadsTotal.Reset()

	SetActiveSessions(3)
	RecordFrameAnalyzed(nil, 0.02)
	RecordFrameAnalyzed(errors.New("decode"), 0)
	RecordModelReload(nil)

	if v := testutil.ToFloat64(ActiveSessions); v != 3.0 {
		t.Errorf("Expected 3 active sessions, got %f", v)
	}
	if v := testutil.ToFloat64(FramesAnalyzedTotal.WithLabelValues("error")); v != 1.0 {
		t.Errorf("Expected 1 failed frame, got %f", v)
	}
	if v := testutil.ToFloat64(ModelReloadsTotal.WithLabelValues("success")); v != 1.0 {
		t.Errorf("Expected 1 successful reload, got %f", v)
	}
}
