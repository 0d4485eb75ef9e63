package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/wailbentafat/debate-relay/broker"
	"github.com/wailbentafat/debate-relay/openrouter"
	"github.com/wailbentafat/debate-relay/presence"
	"github.com/wailbentafat/debate-relay/publisher"
	"github.com/wailbentafat/debate-relay/relay"
	"github.com/wailbentafat/debate-relay/websocket"
)

const presenceTimeout = 2 * time.Second

// Models is the upstream model catalogue.
type Models interface {
	ListModels(ctx context.Context) ([]openrouter.Model, error)
	Credits(ctx context.Context, apiKey string) (float64, error)
	ValidateModels(ctx context.Context, modelIDs []string, apiKey string) []openrouter.ValidationResult
}

type Handler struct {
	relay     *relay.Relay
	ws        *websocket.Handler
	publisher *publisher.Publisher
	presence  presence.Store
	models    Models
	clients   *ClientManager
	logger    *slog.Logger
}

type HandlerDeps struct {
	Relay     *relay.Relay
	Publisher *publisher.Publisher
	Presence  presence.Store
	Models    Models
	Clients   *ClientManager
	Logger    *slog.Logger
}

func NewHandler(deps HandlerDeps) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		relay:     deps.Relay,
		ws:        websocket.NewHandler(deps.Relay, logger),
		publisher: deps.Publisher,
		presence:  deps.Presence,
		models:    deps.Models,
		clients:   deps.Clients,
		logger:    logger.With("component", "http"),
	}
}

// StreamSSE streams a debate's events as server-sent events until the
// debate completes, the client leaves or the broker fails.
func (h *Handler) StreamSSE(c *gin.Context) {
	sess := relay.Session{ID: uuid.NewString(), DebateID: c.Param("id")}
	ctx, release := h.track(c.Request.Context(), sess)
	defer release()

	w := startSSE(c.Writer)
	reason, err := h.relay.Stream(ctx, sess, w)
	h.logEnd(sess, "sse", reason, err)
}

// StreamWebSocket is StreamSSE over a WebSocket.
func (h *Handler) StreamWebSocket(c *gin.Context) {
	sess := relay.Session{ID: uuid.NewString(), DebateID: c.Param("id")}
	ctx, release := h.track(c.Request.Context(), sess)
	defer release()

	reason, err := h.ws.Serve(ctx, c.Writer, c.Request, sess)
	h.logEnd(sess, "websocket", reason, err)
}

func (h *Handler) track(parent context.Context, sess relay.Session) (context.Context, func()) {
	ctx, done := h.clients.AddClient(parent, sess.ID, sess.DebateID)
	h.updatePresence(ctx, sess, true)

	return ctx, func() {
		h.updatePresence(ctx, sess, false)
		done()
	}
}

// updatePresence is best effort; a presence failure never affects the stream.
func (h *Handler) updatePresence(ctx context.Context, sess relay.Session, joined bool) {
	if h.presence == nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), presenceTimeout)
	defer cancel()

	var err error
	if joined {
		err = h.presence.Add(pctx, sess.DebateID, sess.ID)
	} else {
		err = h.presence.Remove(pctx, sess.DebateID, sess.ID)
	}
	if err != nil {
		h.logger.Warn("presence update failed", "debate_id", sess.DebateID, "session_id", sess.ID, "error", err)
	}
}

func (h *Handler) logEnd(sess relay.Session, transport string, reason relay.EndReason, err error) {
	attrs := []any{"debate_id", sess.DebateID, "session_id", sess.ID, "transport", transport, "reason", reason.String()}
	if err != nil {
		h.logger.Warn("stream ended", append(attrs, "error", err)...)
		return
	}
	h.logger.Info("stream ended", attrs...)
}

// Monitors lists the sessions currently watching a debate.
func (h *Handler) Monitors(c *gin.Context) {
	debateID := c.Param("id")
	monitors := []string{}
	if h.presence != nil {
		ids, err := h.presence.List(c.Request.Context(), debateID)
		if err != nil {
			h.logger.Warn("presence lookup failed", "debate_id", debateID, "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "presence unavailable"})
			return
		}
		monitors = ids
	}
	c.JSON(http.StatusOK, gin.H{"debate_id": debateID, "monitors": monitors})
}

type emitRequest struct {
	Event string          `json:"event" binding:"required"`
	Data  json.RawMessage `json:"data"`
}

// Emit publishes an event on a debate's channel on behalf of a producer.
func (h *Handler) Emit(c *gin.Context) {
	var req emitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindError(err)})
		return
	}
	if len(req.Data) == 0 {
		req.Data = json.RawMessage(`{}`)
	}

	debateID := c.Param("id")
	err := h.publisher.Emit(c.Request.Context(), debateID, req.Event, req.Data)
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{"channel": broker.Channel(debateID), "event": req.Event})
	case errors.Is(err, publisher.ErrInvalidPayload):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, broker.ErrBrokerUnavailable):
		h.logger.Warn("emit failed", "debate_id", debateID, "event", req.Event, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "broker unavailable"})
	default:
		h.logger.Error("emit failed", "debate_id", debateID, "event", req.Event, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "emit failed"})
	}
}

func (h *Handler) ListModels(c *gin.Context) {
	models, err := h.models.ListModels(c.Request.Context())
	if err != nil {
		h.upstreamError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data":      models,
		"timestamp": float64(time.Now().UnixMilli()) / 1000,
	})
}

func (h *Handler) Credits(c *gin.Context) {
	credits, err := h.models.Credits(c.Request.Context(), c.Query("api_key"))
	if err != nil {
		h.upstreamError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"credits": credits})
}

type validateModelsRequest struct {
	ModelIDs []string `json:"model_ids" binding:"required,min=1,dive,required"`
	APIKey   string   `json:"api_key"`
}

func (h *Handler) ValidateModels(c *gin.Context) {
	var req validateModelsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindError(err)})
		return
	}
	results := h.models.ValidateModels(c.Request.Context(), req.ModelIDs, req.APIKey)
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (h *Handler) upstreamError(c *gin.Context, err error) {
	h.logger.Warn("upstream request failed", "path", c.FullPath(), "error", err)
	var se *openrouter.StatusError
	if errors.As(err, &se) {
		c.JSON(http.StatusBadGateway, gin.H{"error": se.Message, "upstream_status": se.StatusCode})
		return
	}
	c.JSON(http.StatusBadGateway, gin.H{"error": "upstream unavailable"})
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": h.clients.Count()})
}

// bindError turns binding failures into a short client-facing message.
func bindError(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid request body"
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed on %s", fieldName(fe), fe.Tag()))
	}
	return strings.Join(msgs, "; ")
}

func fieldName(fe validator.FieldError) string {
	switch fe.StructField() {
	case "ModelIDs":
		return "model_ids"
	case "Event":
		return "event"
	default:
		return strings.ToLower(fe.Field())
	}
}
