package streaming

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/therealutkarshpriyadarshi/poseflow/internal/activity"
	"github.com/therealutkarshpriyadarshi/poseflow/internal/inference"
	"github.com/therealutkarshpriyadarshi/poseflow/internal/logging"
	"github.com/therealutkarshpriyadarshi/poseflow/internal/metrics"
	"github.com/therealutkarshpriyadarshi/poseflow/pkg/models"
)

// Session is the server side of one WebSocket connection.
// Messages are handled in arrival order; analyze_video runs in the background.
type Session struct {
	id     string
	conn   *websocket.Conn
	server *Server
	logger *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc

	writeMu   sync.Mutex
	config    atomic.Pointer[models.ModelConfig] // nil until update_config succeeds
	videos    sync.WaitGroup
	closeOnce sync.Once
}

func newSession(id string, conn *websocket.Conn, server *Server) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:     id,
		conn:   conn,
		server: server,
		logger: server.logger.WithSessionID(id),
		ctx:    ctx,
		cancel: cancel,
	}
}

// ID returns the session identifier
func (sess *Session) ID() string { return sess.id }

// Config returns a snapshot of the session's effective configuration
func (sess *Session) Config() models.ModelConfig {
	if cfg := sess.config.Load(); cfg != nil {
		return *cfg
	}
	return sess.server.Defaults()
}

func (sess *Session) run() {
	defer func() {
		sess.cancel()
		sess.videos.Wait()
		sess.conn.Close()
	}()

	if err := sess.send(TypeConfig, sess.Config()); err != nil {
		return
	}

	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				sess.logger.WarnWithErr("Connection closed unexpectedly", err)
			}
			return
		}

		msg, err := ParseClientMessage(data)
		if err != nil {
			var unknown *UnknownMessageTypeError
			if errors.As(err, &unknown) {
				sess.sendError("Unknown message type", err, nil)
			} else {
				sess.sendError("Invalid message", err, nil)
			}
			continue
		}
		sess.handle(msg)
	}
}

func (sess *Session) handle(msg ClientMessage) {
	switch m := msg.(type) {
	case AnalyzeFrame:
		sess.analyzeFrame(m)
	case AnalyzeVideo:
		cfg := sess.Config()
		sess.videos.Add(1)
		go func() {
			defer sess.videos.Done()
			sess.analyzeVideo(cfg, m.Frames)
		}()
	case UpdateConfig:
		sess.updateConfig(m.Patch)
	case GetPerformanceMetrics:
		sess.send(TypePerformanceMetrics, sess.server.performanceMetrics(sess.Config()))
	default:
		sess.sendError("Unknown message type", &UnknownMessageTypeError{Type: msg.messageType()}, nil)
	}
}

func (sess *Session) analyzeFrame(m AnalyzeFrame) {
	cfg := sess.Config()

	result, err := sess.estimate(cfg, m.Image, m.FlipHorizontal, m.Timestamp)
	if err != nil {
		sess.sendError(failureMessage(err), err, m.FrameID)
		return
	}
	sess.send(TypePoseResult, PoseResult{Result: result, FrameID: m.FrameID})
}

func (sess *Session) estimate(cfg models.ModelConfig, payload string, flip bool, timestamp int64) (*models.PoseEstimationResult, error) {
	img, err := inference.DecodeFrame(payload, flip)
	if err != nil {
		metrics.RecordFrameAnalyzed(err, 0)
		return nil, err
	}
	return sess.server.engine.Analyze(sess.ctx, img, cfg, timestamp)
}

func (sess *Session) analyzeVideo(cfg models.ModelConfig, frames []VideoFrame) {
	total := len(frames)
	start := time.Now()
	sess.server.sink.Record(activity.Event{
		Kind:      activity.AnalysisStarted,
		SessionID: sess.id,
		Fields:    map[string]interface{}{"frames": total},
	})
	sess.send(TypeVideoAnalysisStarted, VideoAnalysisStarted{TotalFrames: total})

	results := make([]models.PoseEstimationResult, 0, total)
	var failed []int
	var processingTime float64

	for i, frame := range frames {
		if err := sess.ctx.Err(); err != nil {
			sess.server.sink.Record(activity.Event{
				Kind:      activity.AnalysisFailed,
				SessionID: sess.id,
				Fields:    map[string]interface{}{"processed": i, "error": err.Error()},
			})
			sess.logger.LogAnalysisEvent(sess.id, "video_analysis_abandoned", i, time.Since(start))
			return
		}

		result, err := sess.estimate(cfg, frame.Image, false, frame.Timestamp)
		if err != nil {
			failed = append(failed, i)
			sess.sendError(failureMessage(err), err, json.RawMessage(strconv.Itoa(i)))
		} else {
			results = append(results, *result)
			processingTime += result.ProcessingTime
		}

		processed := i + 1
		if processed%sess.server.progressInterval == 0 || processed == total {
			sess.send(TypeVideoAnalysisProgress, VideoAnalysisProgress{
				Processed: processed,
				Total:     total,
				Progress:  float64(processed) / float64(total) * 100,
			})
		}
	}

	var average float64
	if len(results) > 0 {
		average = processingTime / float64(len(results))
	}
	sess.send(TypeVideoAnalysisComplete, VideoAnalysisComplete{
		Results:             results,
		FailedFrames:        failed,
		TotalProcessingTime: processingTime,
		AverageFrameTime:    average,
	})

	sess.server.sink.Record(activity.Event{
		Kind:      activity.AnalysisCompleted,
		SessionID: sess.id,
		Fields: map[string]interface{}{
			"frames": total,
			"failed": len(failed),
		},
	})
	sess.logger.LogAnalysisEvent(sess.id, "video_analysis_complete", total, time.Since(start))
}

// updateConfig applies a patch. The shared model is reloaded only when the patch itself
// changes a model-shaping field, and that reload finishes before the next message is read.
func (sess *Session) updateConfig(patch models.ConfigPatch) {
	prev := sess.Config()
	next := patch.Apply(prev)
	if err := next.Validate(); err != nil {
		sess.sendError("Invalid configuration", err, nil)
		return
	}

	if prev.RequiresReload(next) {
		if err := sess.server.engine.Reload(sess.ctx, next); err != nil {
			sess.sendError("Failed to reload model", err, nil)
			return
		}
	}

	sess.config.Store(&next)
	sess.logger.WithField("architecture", next.Architecture).Info("Session config updated")
	sess.send(TypeConfigUpdated, ConfigUpdated{Config: next})
}

func failureMessage(err error) string {
	var decodeErr *inference.DecodeError
	if errors.As(err, &decodeErr) {
		return "Failed to decode frame"
	}
	return "Pose estimation failed"
}

func (sess *Session) sendError(message string, err error, frameID json.RawMessage) {
	sess.logger.WithError(err).Warn(message)
	sess.send(TypeError, ErrorMessage{Message: message, Details: err.Error(), FrameID: frameID})
}

func (sess *Session) send(msgType string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", msgType, err)
	}

	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()

	sess.conn.SetWriteDeadline(time.Now().Add(sess.server.writeTimeout))
	if err := sess.conn.WriteJSON(Envelope{Type: msgType, Data: payload}); err != nil {
		if sess.ctx.Err() == nil {
			sess.logger.WithError(err).Debugf("Failed to send %s", msgType)
		}
		return err
	}
	return nil
}

func (sess *Session) close(code int, reason string) {
	sess.closeOnce.Do(func() {
		sess.cancel()
		sess.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason),
			time.Now().Add(time.Second))
		sess.conn.Close()
	})
}
