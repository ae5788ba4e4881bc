package agentcore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// chatRequest is the POST /chat body. user_id is optional; anonymous
// callers are rate-limited by client IP instead.
type chatRequest struct {
	UserID   string `json:"user_id"`
	ThreadID string `json:"thread_id"`
	Message  string `json:"message" binding:"required"`
	Language string `json:"language"`
}

type errorBody struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

// Server is the HTTP surface over the agent.
type Server struct {
	agent       *Agent
	threads     *ThreadStore
	memories    *MemoryStore
	redis       *redis.Client
	promMetrics *PrometheusMetrics
	logger      Logger
	engine      *gin.Engine
}

// ServerDeps collects the server's collaborators.
type ServerDeps struct {
	Agent       *Agent
	Threads     *ThreadStore
	Memories    *MemoryStore
	Redis       *redis.Client
	PromMetrics *PrometheusMetrics
	Logger      Logger
}

// NewServer builds the router.
func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = &NoOpLogger{}
	}
	s := &Server{
		agent:       deps.Agent,
		threads:     deps.Threads,
		memories:    deps.Memories,
		redis:       deps.Redis,
		promMetrics: deps.PromMetrics,
		logger:      logger,
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/health", s.handleHealth)
	engine.GET("/ready", s.handleReady)
	if s.promMetrics != nil {
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(
			s.promMetrics.GetRegistry(),
			promhttp.HandlerOpts{},
		)))
	}

	api := engine.Group("/api/v1")
	{
		api.POST("/chat", s.handleChat)
		api.POST("/chat/stream", s.handleChatStream)
		api.GET("/conversations", s.handleListConversations)
		api.GET("/conversations/:thread_id", s.handleGetConversation)
		api.DELETE("/conversations/:thread_id", s.handleDeleteConversation)
	}

	s.engine = engine
	return s
}

// Handler exposes the router for http.Server and tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until the listener fails.
func (s *Server) Run(addr string) error {
	return s.engine.Run(addr)
}

// writeError maps a pipeline error onto the response envelope. The
// envelope code is drawn from a closed set clients can switch on:
// RATE_LIMIT_EXCEEDED, SERVICE_UNAVAILABLE, INVALID_INPUT,
// VALIDATION_ERROR, INTERNAL_ERROR. Quota and availability errors
// carry a Retry-After header.
func (s *Server) writeError(c *gin.Context, err error) {
	code := ErrorCode(err)
	status := http.StatusInternalServerError
	envelopeCode := "INTERNAL_ERROR"
	switch {
	case errors.Is(err, ErrPromptInjection):
		status = http.StatusBadRequest
		envelopeCode = "INVALID_INPUT"
	case IsUserError(err):
		status = http.StatusUnprocessableEntity
		envelopeCode = "VALIDATION_ERROR"
	case IsQuotaError(err):
		status = http.StatusTooManyRequests
		envelopeCode = "RATE_LIMIT_EXCEEDED"
	case IsBusyError(err), IsDependencyError(err):
		status = http.StatusServiceUnavailable
		envelopeCode = "SERVICE_UNAVAILABLE"
	case IsNotFound(err):
		status = http.StatusNotFound
		envelopeCode = "INVALID_INPUT"
		code = "NOT_FOUND"
	}
	if retryAfter, ok := RetryAfter(err); ok {
		seconds := int(retryAfter.Seconds())
		if seconds < 1 {
			seconds = 1
		}
		c.Header("Retry-After", strconv.Itoa(seconds))
	}

	body := errorEnvelope{Error: errorBody{
		Code:    envelopeCode,
		Message: publicMessage(code),
	}}
	var ctxErr *ErrorWithContext
	if errors.As(err, &ctxErr) && IsUserError(err) {
		body.Error.Details = ctxErr.Context
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "code", code, "error", err)
	}
	c.JSON(status, body)
}

func publicMessage(code string) string {
	switch code {
	case "EMPTY_INPUT":
		return "Message must not be empty."
	case "INPUT_TOO_LONG":
		return "Message exceeds the maximum allowed length."
	case "PROMPT_INJECTION_DETECTED":
		return "Message was rejected by input screening."
	case "VALIDATION_ERROR":
		return "Message failed validation."
	case "RATE_LIMIT_EXCEEDED":
		return "Too many requests. Try again later."
	case "SERVICE_UNAVAILABLE":
		return "Service is temporarily unavailable. Try again later."
	case "NOT_FOUND":
		return "Resource not found."
	default:
		return "An internal error occurred."
	}
}

func (s *Server) handleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, errorEnvelope{Error: errorBody{
			Code:    "VALIDATION_ERROR",
			Message: "Request body must include a message.",
		}})
		return
	}
	result, err := s.agent.Turn(c.Request.Context(), TurnRequest{
		UserID:   req.UserID,
		ThreadID: req.ThreadID,
		ClientIP: c.ClientIP(),
		Message:  req.Message,
		Language: req.Language,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleChatStream(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, errorEnvelope{Error: errorBody{
			Code:    "VALIDATION_ERROR",
			Message: "Request body must include a message.",
		}})
		return
	}

	// Resolve the thread before streaming starts so the client knows
	// where the conversation lives even if the stream dies mid-way.
	thread, _, err := s.threads.GetOrCreate(c.Request.Context(), req.ThreadID, req.UserID)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Thread-ID", thread.ThreadID)

	flusher, _ := c.Writer.(http.Flusher)
	send := func(ctx context.Context, chunk []byte) error {
		if len(chunk) == 0 {
			return nil
		}
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", chunk); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	}

	_, err = s.agent.StreamTurn(c.Request.Context(), TurnRequest{
		UserID:   req.UserID,
		ThreadID: thread.ThreadID,
		ClientIP: c.ClientIP(),
		Message:  req.Message,
		Language: req.Language,
	}, send)
	if err != nil {
		// Headers are gone; the best we can do is an SSE error event.
		fmt.Fprintf(c.Writer, "event: error\ndata: %s\n\n", ErrorCode(err))
	}
	fmt.Fprint(c.Writer, "data: [DONE]\n\n")
	if flusher != nil {
		flusher.Flush()
	}
}

func (s *Server) handleGetConversation(c *gin.Context) {
	thread, err := s.threads.Get(c.Request.Context(), c.Param("thread_id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, thread)
}

func (s *Server) handleDeleteConversation(c *gin.Context) {
	threadID := c.Param("thread_id")
	if err := s.threads.Delete(c.Request.Context(), threadID); err != nil {
		s.writeError(c, err)
		return
	}
	if s.memories != nil {
		if err := s.memories.DeleteByThread(c.Request.Context(), threadID); err != nil {
			s.logger.Warn("thread memory cleanup failed", "thread_id", threadID, "error", err)
		}
	}
	c.JSON(http.StatusOK, gin.H{"deleted": threadID})
}

func (s *Server) handleListConversations(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, errorEnvelope{Error: errorBody{
			Code:    "VALIDATION_ERROR",
			Message: "user_id query parameter is required.",
		}})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	views, err := s.threads.ListByUser(c.Request.Context(), userID, limit, offset)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": views, "count": len(views)})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleReady checks each dependency with a short deadline; any
// failure makes the instance not ready.
func (s *Server) handleReady(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := gin.H{}
	ready := true

	if err := s.redis.Ping(ctx).Err(); err != nil {
		checks["redis"] = err.Error()
		ready = false
	} else {
		checks["redis"] = "ok"
	}

	if s.memories != nil {
		if _, err := s.memories.Count(ctx, "readiness-probe"); err != nil {
			checks["vector_store"] = err.Error()
			ready = false
		} else {
			checks["vector_store"] = "ok"
		}
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"ready": ready, "checks": checks})
}
