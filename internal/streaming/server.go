package streaming

import (
	"context"
	"image"
	"net/http"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shirou/gopsutil/v4/process"
	"github.com/therealutkarshpriyadarshi/poseflow/internal/activity"
	"github.com/therealutkarshpriyadarshi/poseflow/internal/config"
	"github.com/therealutkarshpriyadarshi/poseflow/internal/logging"
	"github.com/therealutkarshpriyadarshi/poseflow/internal/metrics"
	"github.com/therealutkarshpriyadarshi/poseflow/pkg/models"
)

// Engine runs inference and owns the shared model
type Engine interface {
	Analyze(ctx context.Context, img image.Image, params models.ModelConfig, timestamp int64) (*models.PoseEstimationResult, error)
	Reload(ctx context.Context, cfg models.ModelConfig) error
	Loaded() bool
}

const (
	defaultMaxMessageBytes  = 32 << 20
	defaultWriteTimeout     = 10 * time.Second
	defaultProgressInterval = 10
)

// Server accepts WebSocket sessions and runs pose analysis for them
type Server struct {
	engine   Engine
	defaults atomic.Pointer[models.ModelConfig]
	logger   *logging.Logger
	sink     activity.Sink
	upgrader websocket.Upgrader
	memory   func() MemoryUsage

	maxMessageBytes  int64
	writeTimeout     time.Duration
	progressInterval int
	startedAt        time.Time

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

// Option configures a Server
type Option func(*Server)

// WithActivitySink records analysis activity
func WithActivitySink(sink activity.Sink) Option {
	return func(s *Server) { s.sink = sink }
}

// WithMemoryReader replaces the process memory probe
func WithMemoryReader(fn func() MemoryUsage) Option {
	return func(s *Server) { s.memory = fn }
}

// NewServer creates a streaming server. defaults is sent to every new session.
func NewServer(cfg config.StreamingConfig, engine Engine, defaults models.ModelConfig, logger *logging.Logger, opts ...Option) *Server {
	s := &Server{
		engine:           engine,
		logger:           logger.WithComponent("streaming"),
		sink:             activity.Nop{},
		memory:           readMemory,
		maxMessageBytes:  cfg.MaxMessageBytes,
		writeTimeout:     cfg.WriteTimeout,
		progressInterval: cfg.ProgressInterval,
		startedAt:        time.Now(),
		sessions:         make(map[string]*Session),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			// auth and origin checks happen upstream
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	if s.maxMessageBytes <= 0 {
		s.maxMessageBytes = defaultMaxMessageBytes
	}
	if s.writeTimeout <= 0 {
		s.writeTimeout = defaultWriteTimeout
	}
	if s.progressInterval <= 0 {
		s.progressInterval = defaultProgressInterval
	}
	for _, opt := range opts {
		opt(s)
	}
	s.defaults.Store(&defaults)
	return s
}

// Defaults returns the configuration new sessions start with
func (s *Server) Defaults() models.ModelConfig {
	return *s.defaults.Load()
}

// SetDefaults replaces the configuration used by sessions that never sent update_config
func (s *Server) SetDefaults(cfg models.ModelConfig) {
	s.defaults.Store(&cfg)
	s.logger.WithField("architecture", cfg.Architecture).Info("Default model config updated")
}

// HandleWebSocket upgrades a gin request into a session
func (s *Server) HandleWebSocket(c *gin.Context) {
	s.ServeHTTP(c.Writer, c.Request)
}

// ServeHTTP upgrades the request and serves the session until it disconnects
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WarnWithErr("WebSocket upgrade failed", err)
		return
	}
	conn.SetReadLimit(s.maxMessageBytes)

	sess := newSession(uuid.New().String(), conn, s)
	if !s.register(sess) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		conn.Close()
		return
	}
	defer s.unregister(sess)

	sess.run()
}

func (s *Server) register(sess *Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.sessions[sess.id] = sess
	metrics.SetActiveSessions(len(s.sessions))
	sess.logger.Info("Session connected")
	return true
}

func (s *Server) unregister(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.id]; !ok {
		return
	}
	delete(s.sessions, sess.id)
	metrics.SetActiveSessions(len(s.sessions))
	sess.logger.Info("Session disconnected")
}

// ActiveSessions returns the number of open sessions
func (s *Server) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Shutdown refuses new sessions and closes open ones, cancelling their in-flight analysis
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	open := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		open = append(open, sess)
	}
	s.mu.Unlock()

	for _, sess := range open {
		sess.close(websocket.CloseGoingAway, "server shutting down")
	}

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for s.ActiveSessions() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func (s *Server) performanceMetrics(cfg models.ModelConfig) PerformanceMetrics {
	return PerformanceMetrics{
		ActiveConnections: s.ActiveSessions(),
		ModelLoaded:       s.engine.Loaded(),
		Uptime:            time.Since(s.startedAt).Seconds(),
		Memory:            s.memory(),
		Config:            cfg,
	}
}

func readMemory() MemoryUsage {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	usage := MemoryUsage{HeapAlloc: ms.HeapAlloc, HeapSys: ms.HeapSys}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return usage
	}
	if info, err := proc.MemoryInfo(); err == nil {
		usage.RSS = info.RSS
		usage.VMS = info.VMS
	}
	return usage
}
