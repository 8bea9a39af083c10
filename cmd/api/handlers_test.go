package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/therealutkarshpriyadarshi/poseflow/internal/config"
	"github.com/therealutkarshpriyadarshi/poseflow/internal/logging"
	"github.com/therealutkarshpriyadarshi/poseflow/internal/middleware"
	"github.com/therealutkarshpriyadarshi/poseflow/internal/scheduler"
	"github.com/therealutkarshpriyadarshi/poseflow/pkg/models"
)

// MockQueue is a mock implementation of JobQueue
type MockQueue struct {
	mock.Mock
}

func (m *MockQueue) Submit(jobType models.JobType, payload json.RawMessage, opts models.SubmitOptions) (string, error) {
	args := m.Called(jobType, payload, opts)
	return args.String(0), args.Error(1)
}

func (m *MockQueue) GetJob(ctx context.Context, jobID string) (*models.Job, bool) {
	args := m.Called(ctx, jobID)
	if args.Get(0) == nil {
		return nil, args.Bool(1)
	}
	return args.Get(0).(*models.Job), args.Bool(1)
}

func (m *MockQueue) CancelJob(ctx context.Context, jobID string) error {
	args := m.Called(ctx, jobID)
	return args.Error(0)
}

func (m *MockQueue) Stats() (int, int, int) {
	args := m.Called()
	return args.Int(0), args.Int(1), args.Int(2)
}

func setupTestRouter(api *API) *gin.Engine {
	gin.SetMode(gin.TestMode)
	rl := middleware.NewRateLimiter(1000, 1000)
	ws := func(c *gin.Context) { c.Status(http.StatusSwitchingProtocols) }
	return setupRouter(api, ws, rl, logging.NewNop())
}

func doJSON(router http.Handler, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	var response map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &response)
	return w, response
}

func TestSubmitJobHandler_Success(t *testing.T) {
	mockQueue := new(MockQueue)
	router := setupTestRouter(&API{queue: mockQueue, logger: logging.NewNop()})

	mockQueue.On("Submit", models.JobTypeVideoTranscode, mock.Anything, models.SubmitOptions{
		Priority:    5,
		MaxAttempts: 2,
		CallbackURL: "https://example.com/hook",
	}).Return("job-123", nil)

	w, response := doJSON(router, "POST", "/api/v1/jobs", map[string]interface{}{
		"type":        "video-transcode",
		"payload":     map[string]string{"inputPath": "/videos/a.mp4", "quality": "low"},
		"priority":    5,
		"maxAttempts": 2,
		"callbackUrl": "https://example.com/hook",
	})

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "job-123", response["jobId"])
	assert.Equal(t, "pending", response["status"])
	mockQueue.AssertExpectations(t)

	payload := mockQueue.Calls[0].Arguments.Get(1).(json.RawMessage)
	assert.JSONEq(t, `{"inputPath":"/videos/a.mp4","quality":"low"}`, string(payload))
}

func TestSubmitJobHandler_DefaultPriority(t *testing.T) {
	mockQueue := new(MockQueue)
	router := setupTestRouter(&API{queue: mockQueue, logger: logging.NewNop()})

	mockQueue.On("Submit", models.JobTypePoseAnalysis, mock.Anything, models.SubmitOptions{
		Priority: models.JobPriorityDefault,
	}).Return("job-1", nil)

	w, _ := doJSON(router, "POST", "/api/v1/jobs", map[string]interface{}{
		"type":    "pose-analysis",
		"payload": map[string]string{"inputPath": "/videos/a.mp4"},
	})
	assert.Equal(t, http.StatusAccepted, w.Code)
	mockQueue.AssertExpectations(t)
}

func TestSubmitJobHandler_Errors(t *testing.T) {
	tests := []struct {
		name     string
		body     interface{}
		queueErr error
		wantCode int
	}{
		{
			name:     "missing type",
			body:     map[string]interface{}{"payload": map[string]string{}},
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "missing payload",
			body:     map[string]interface{}{"type": "video-transcode"},
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "unknown type",
			body:     map[string]interface{}{"type": "render", "payload": map[string]string{}},
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "bad callback url",
			body:     map[string]interface{}{"type": "video-transcode", "payload": map[string]string{}, "callbackUrl": "not a url"},
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "negative max attempts",
			body:     map[string]interface{}{"type": "video-transcode", "payload": map[string]string{}, "maxAttempts": -1},
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "no executor",
			body:     map[string]interface{}{"type": "ai-analysis", "payload": map[string]string{}},
			queueErr: scheduler.ErrUnknownJobType,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "queue stopped",
			body:     map[string]interface{}{"type": "ai-analysis", "payload": map[string]string{}},
			queueErr: scheduler.ErrQueueStopped,
			wantCode: http.StatusServiceUnavailable,
		},
		{
			name:     "unexpected",
			body:     map[string]interface{}{"type": "ai-analysis", "payload": map[string]string{}},
			queueErr: errors.New("boom"),
			wantCode: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockQueue := new(MockQueue)
			if tt.queueErr != nil {
				mockQueue.On("Submit", mock.Anything, mock.Anything, mock.Anything).Return("", tt.queueErr)
			}
			router := setupTestRouter(&API{queue: mockQueue, logger: logging.NewNop()})

			w, _ := doJSON(router, "POST", "/api/v1/jobs", tt.body)
			assert.Equal(t, tt.wantCode, w.Code)
			mockQueue.AssertExpectations(t)
		})
	}
}

func TestGetJobHandler(t *testing.T) {
	mockQueue := new(MockQueue)
	router := setupTestRouter(&API{queue: mockQueue, logger: logging.NewNop()})

	job := &models.Job{ID: "job-1", Type: models.JobTypeVideoTranscode, Status: models.JobStatusProcessing, Attempts: 1, CreatedAt: time.Now()}
	mockQueue.On("GetJob", mock.Anything, "job-1").Return(job, true)
	mockQueue.On("GetJob", mock.Anything, "missing").Return(nil, false)

	w, response := doJSON(router, "GET", "/api/v1/jobs/job-1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "processing", response["status"])
	assert.Equal(t, "job-1", response["job"].(map[string]interface{})["id"])

	w, response = doJSON(router, "GET", "/api/v1/jobs/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", response["status"])
}

func TestCancelJobHandler(t *testing.T) {
	tests := []struct {
		name       string
		cancelErr  error
		job        *models.Job
		wantCode   int
		wantStatus string
	}{
		{name: "pending", job: &models.Job{Status: models.JobStatusCancelled}, wantCode: http.StatusAccepted, wantStatus: "cancelled"},
		{name: "running", job: &models.Job{Status: models.JobStatusProcessing}, wantCode: http.StatusAccepted, wantStatus: "processing"},
		{name: "not found", cancelErr: scheduler.ErrJobNotFound, wantCode: http.StatusNotFound},
		{name: "finished", cancelErr: scheduler.ErrJobFinished, wantCode: http.StatusConflict},
		{name: "unexpected", cancelErr: errors.New("boom"), wantCode: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockQueue := new(MockQueue)
			mockQueue.On("CancelJob", mock.Anything, "job-1").Return(tt.cancelErr)
			if tt.job != nil {
				mockQueue.On("GetJob", mock.Anything, "job-1").Return(tt.job, true)
			}
			router := setupTestRouter(&API{queue: mockQueue, logger: logging.NewNop()})

			w, response := doJSON(router, "DELETE", "/api/v1/jobs/job-1", nil)
			assert.Equal(t, tt.wantCode, w.Code)
			if tt.wantStatus != "" {
				assert.Equal(t, tt.wantStatus, response["status"])
			}
			mockQueue.AssertExpectations(t)
		})
	}
}

func TestHealthCheckHandler(t *testing.T) {
	mockQueue := new(MockQueue)
	mockQueue.On("Stats").Return(4, 3, 3)

	checks := map[string]HealthCheck{"redis": func(context.Context) error { return nil }}
	api := &API{
		queue:    mockQueue,
		sessions: func() int { return 2 },
		model:    func() bool { return true },
		checks:   checks,
		logger:   logging.NewNop(),
	}
	router := setupTestRouter(api)

	w, response := doJSON(router, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", response["status"])
	assert.EqualValues(t, 2, response["activeSessions"])
	assert.Equal(t, true, response["modelLoaded"])
	assert.EqualValues(t, 4, response["queue"].(map[string]interface{})["pending"])

	checks["redis"] = func(context.Context) error { return errors.New("connection refused") }
	w, response = doJSON(router, "GET", "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "unhealthy", response["status"])
	assert.Equal(t, "connection refused", response["dependencies"].(map[string]interface{})["redis"])
}

func TestRateLimitedRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockQueue := new(MockQueue)
	mockQueue.On("GetJob", mock.Anything, mock.Anything).Return(nil, false)
	mockQueue.On("Stats").Return(0, 0, 3)
	api := &API{queue: mockQueue, logger: logging.NewNop()}
	router := setupRouter(api, func(c *gin.Context) {}, middleware.NewRateLimiter(1, 1), logging.NewNop())

	w, _ := doJSON(router, "GET", "/api/v1/jobs/a", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w, _ = doJSON(router, "GET", "/api/v1/jobs/a", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// health is not rate limited
	w, _ = doJSON(router, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

// Jobs submitted over HTTP run on the real queue and report terminal status
func TestJobLifecycle(t *testing.T) {
	q := scheduler.NewQueue(config.QueueConfig{Workers: 1, MaxAttempts: 2, HistorySize: 10}, logging.NewNop())
	attempts := 0
	q.Register(models.JobTypeVideoTranscode, scheduler.ExecutorFunc(func(ctx context.Context, job *models.Job) (interface{}, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("transient")
		}
		return map[string]string{"outputPath": "/out/a.mp4"}, nil
	}))
	q.Start()
	defer q.Stop(context.Background())

	router := setupTestRouter(&API{queue: q, logger: logging.NewNop()})

	w, response := doJSON(router, "POST", "/api/v1/jobs", map[string]interface{}{
		"type":    "video-transcode",
		"payload": map[string]string{"inputPath": "/videos/a.mp4"},
	})
	require.Equal(t, http.StatusAccepted, w.Code)
	jobID := response["jobId"].(string)

	assert.Eventually(t, func() bool {
		_, response := doJSON(router, "GET", "/api/v1/jobs/"+jobID, nil)
		return response["status"] == "completed"
	}, 2*time.Second, 10*time.Millisecond)

	_, response = doJSON(router, "GET", "/api/v1/jobs/"+jobID, nil)
	job := response["job"].(map[string]interface{})
	assert.EqualValues(t, 2, job["attempts"])

	w, _ = doJSON(router, "DELETE", "/api/v1/jobs/"+jobID, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}
