package server

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/syncnote/internal/notes"
	"github.com/MarcoPoloResearchLab/syncnote/internal/remote"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	userIDContextKey    = "syncnote_user_id"
	accessTokenQueryKey = "access_token"
	updatedAfterQuery   = "updated_after"

	errorCodeInvalidRequest = "INVALID_REQUEST"
	errorCodeUnauthorized   = "UNAUTHORIZED"
	errorCodeNotFound       = "NOT_FOUND"
	errorCodeIDConflict     = "ID_CONFLICT"
	errorCodeRecordDeleted  = "RECORD_DELETED"
	errorCodeServerError    = "SERVER_ERROR"
)

var (
	errMissingRepository    = errors.New("repository dependency required")
	errMissingTokenManager  = errors.New("token validator dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// TokenValidator resolves a bearer token to the user id it was issued for.
type TokenValidator interface {
	ValidateToken(token string) (string, error)
}

type Dependencies struct {
	Repository *Repository
	Tokens     TokenValidator
	Logger     *zap.Logger
	// Changes is told about every write; a feed is created when nil.
	Changes           *ChangeFeed
	HeartbeatInterval time.Duration
	Clock             func() time.Time
}

// NewHTTPHandler wires the sync API routes.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Repository == nil {
		return nil, errMissingRepository
	}
	if deps.Tokens == nil {
		return nil, errMissingTokenManager
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	changes := deps.Changes
	if changes == nil {
		changes = NewChangeFeed()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		repository: deps.Repository,
		tokens:     deps.Tokens,
		logger:     logger,
		changes:    changes,
		heartbeat:  heartbeat,
		clock:      clock,
	}

	router.GET("/events", handler.authorizeStream, handler.handleEvents)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/sync", handler.handleChanges)

	protected.GET("/categories", handler.handleList(notes.KindCollection))
	protected.POST("/categories", handler.handleCreate(notes.KindCollection))
	protected.PUT("/categories/:id", handler.handleUpdate(notes.KindCollection))
	protected.DELETE("/categories/:id", handler.handleDelete(notes.KindCollection))

	protected.GET("/categories/:id/notes", handler.handleList(notes.KindNote))
	protected.POST("/categories/:id/notes", handler.handleCreate(notes.KindNote))
	protected.GET("/notes/:id", handler.handleGet(notes.KindNote))
	protected.PUT("/notes/:id", handler.handleUpdate(notes.KindNote))
	protected.DELETE("/notes/:id", handler.handleDelete(notes.KindNote))

	protected.GET("/notes/:id/items", handler.handleList(notes.KindItem))
	protected.POST("/notes/:id/items", handler.handleCreate(notes.KindItem))
	protected.PUT("/items/:id", handler.handleUpdate(notes.KindItem))
	protected.PATCH("/items/:id", handler.handlePatchItem)
	protected.DELETE("/items/:id", handler.handleDelete(notes.KindItem))

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	})
}

type httpHandler struct {
	repository *Repository
	tokens     TokenValidator
	logger     *zap.Logger
	changes    *ChangeFeed
	heartbeat  time.Duration
	clock      func() time.Time
}

type responseEnvelope struct {
	Success   bool    `json:"success"`
	Data      any     `json:"data"`
	Message   *string `json:"message"`
	ErrorCode string  `json:"error_code,omitempty"`
}

func respondData(c *gin.Context, status int, data any) {
	c.JSON(status, responseEnvelope{Success: true, Data: data})
}

func respondError(c *gin.Context, status int, code string, message string) {
	c.AbortWithStatusJSON(status, responseEnvelope{Success: false, Message: &message, ErrorCode: code})
}

func (h *httpHandler) handleChanges(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	var since *time.Time
	if raw := strings.TrimSpace(c.Query(updatedAfterQuery)); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			respondError(c, http.StatusBadRequest, strings.ToUpper(updatedAfterQuery), "Expected an RFC3339 timestamp.")
			return
		}
		parsed = parsed.UTC()
		since = &parsed
	}

	changes, err := h.repository.Changes(c.Request.Context(), userID, since)
	if err != nil {
		h.writeError(c, "changes", err)
		return
	}
	respondData(c, http.StatusOK, changes)
}

func (h *httpHandler) handleList(kind notes.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(userIDContextKey)
		payloads, err := h.repository.List(c.Request.Context(), userID, kind, c.Param("id"))
		if err != nil {
			h.writeError(c, "list", err)
			return
		}
		respondData(c, http.StatusOK, payloads)
	}
}

func (h *httpHandler) handleGet(kind notes.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(userIDContextKey)
		payload, err := h.repository.Get(c.Request.Context(), userID, kind, c.Param("id"))
		if err != nil {
			h.writeError(c, "get", err)
			return
		}
		respondData(c, http.StatusOK, payload)
	}
}

func (h *httpHandler) handlePatchItem(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	var patch ItemPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		respondError(c, http.StatusBadRequest, errorCodeInvalidRequest, "Malformed request body.")
		return
	}
	payload, err := h.repository.PatchItem(c.Request.Context(), userID, c.Param("id"), patch)
	if err != nil {
		h.writeError(c, "patch", err)
		return
	}
	h.announce(userID, notes.KindItem, payload.ID)
	respondData(c, http.StatusOK, payload)
}

func (h *httpHandler) handleCreate(kind notes.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(userIDContextKey)
		row, err := decodeRow(c, kind)
		if err != nil {
			respondError(c, http.StatusBadRequest, errorCodeInvalidRequest, "Malformed request body.")
			return
		}
		if _, nested := parentKind(kind); nested {
			row.setParentID(c.Param("id"))
		}
		if err := h.repository.Create(c.Request.Context(), userID, row); err != nil {
			h.writeError(c, "create", err)
			return
		}
		h.announce(userID, kind, row.meta().ID)
		respondData(c, http.StatusCreated, row.payload())
	}
}

func (h *httpHandler) handleUpdate(kind notes.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(userIDContextKey)
		row, err := decodeRow(c, kind)
		if err != nil {
			respondError(c, http.StatusBadRequest, errorCodeInvalidRequest, "Malformed request body.")
			return
		}
		row.meta().ID = c.Param("id")
		if err := h.repository.Update(c.Request.Context(), userID, row); err != nil {
			h.writeError(c, "update", err)
			return
		}
		h.announce(userID, kind, row.meta().ID)
		respondData(c, http.StatusOK, row.payload())
	}
}

func (h *httpHandler) handleDelete(kind notes.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(userIDContextKey)
		id := c.Param("id")
		if _, err := h.repository.Delete(c.Request.Context(), userID, kind, id); err != nil {
			h.writeError(c, "delete", err)
			return
		}
		h.announce(userID, kind, id)
		c.Status(http.StatusNoContent)
	}
}

type realtimeEventPayload struct {
	Kind      string    `json:"kind,omitempty"`
	IDs       []string  `json:"ids,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

func (h *httpHandler) handleEvents(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	subscription := h.changes.Subscribe(c.Request.Context(), userID)
	defer subscription.Close()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	h.sendHeartbeat(c)
	c.Writer.Flush()

	c.Stream(func(io.Writer) bool {
		select {
		case <-subscription.Done():
			return false
		case <-subscription.Ready():
			now := h.clock().UTC()
			for _, changed := range subscription.Drain() {
				c.SSEvent(RealtimeEventRecordsChanged, realtimeEventPayload{
					Kind:      changed.Kind.String(),
					IDs:       changed.IDs,
					Timestamp: now,
					Source:    realtimeSourceServer,
				})
			}
			return true
		case <-ticker.C:
			h.sendHeartbeat(c)
			return true
		}
	})
}

func (h *httpHandler) sendHeartbeat(c *gin.Context) {
	c.SSEvent(realtimeEventHeartbeat, realtimeEventPayload{Timestamp: h.clock().UTC(), Source: realtimeSourceServer})
}

func (h *httpHandler) announce(userID string, kind notes.Kind, id string) {
	h.changes.Announce(userID, kind, id)
}

func (h *httpHandler) writeError(c *gin.Context, operation string, err error) {
	var validationErr *ValidationError
	switch {
	case errors.As(err, &validationErr):
		respondError(c, http.StatusBadRequest, validationErr.Code(), validationErr.Message)
	case errors.Is(err, ErrRecordNotFound), errors.Is(err, ErrParentNotFound):
		respondError(c, http.StatusNotFound, errorCodeNotFound, "Not found.")
	case errors.Is(err, ErrIDConflict):
		respondError(c, http.StatusConflict, errorCodeIDConflict, "A record with this id already exists.")
	case errors.Is(err, ErrRecordDeleted):
		respondError(c, http.StatusConflict, errorCodeRecordDeleted, "This record has been deleted.")
	default:
		h.logger.Error("sync api request failed",
			zap.String("operation", operation),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		respondError(c, http.StatusInternalServerError, errorCodeServerError, "Internal server error.")
	}
}

func decodeRow(c *gin.Context, kind notes.Kind) (storedRow, error) {
	switch kind {
	case notes.KindCollection:
		var payload remote.CategoryPayload
		if err := c.ShouldBindJSON(&payload); err != nil {
			return nil, err
		}
		return &categoryRow{
			RowMeta:     payloadMeta(payload.ID, payload.OrderIndex, payload.CreatedAt),
			Name:        payload.Name,
			Description: payload.Description,
		}, nil
	case notes.KindNote:
		var payload remote.NotePayload
		if err := c.ShouldBindJSON(&payload); err != nil {
			return nil, err
		}
		return &noteRow{
			RowMeta:     payloadMeta(payload.ID, payload.OrderIndex, payload.CreatedAt),
			CategoryID:  payload.Category,
			Title:       payload.Title,
			Description: payload.Description,
		}, nil
	case notes.KindItem:
		var payload remote.ItemPayload
		if err := c.ShouldBindJSON(&payload); err != nil {
			return nil, err
		}
		return &itemRow{
			RowMeta:     payloadMeta(payload.ID, payload.OrderIndex, payload.CreatedAt),
			NoteID:      payload.Note,
			Title:       payload.Title,
			Content:     payload.Content,
			IsCompleted: payload.IsCompleted,
		}, nil
	default:
		return nil, notes.ErrInvalidKind
	}
}

func payloadMeta(id string, orderIndex int64, createdAt time.Time) RowMeta {
	return RowMeta{
		ID:         strings.TrimSpace(id),
		OrderIndex: orderIndex,
		CreatedAt:  createdAt.UTC(),
	}
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		respondError(c, http.StatusUnauthorized, errorCodeUnauthorized, errInvalidAuthorization.Error())
		return
	}
	h.authorizeToken(c, strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")))
}

// authorizeStream also accepts the token as a query parameter since EventSource clients cannot
// set headers.
func (h *httpHandler) authorizeStream(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		h.authorizeToken(c, strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")))
		return
	}
	h.authorizeToken(c, strings.TrimSpace(c.Query(accessTokenQueryKey)))
}

func (h *httpHandler) authorizeToken(c *gin.Context, token string) {
	if token == "" {
		respondError(c, http.StatusUnauthorized, errorCodeUnauthorized, errInvalidAuthorization.Error())
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		respondError(c, http.StatusUnauthorized, errorCodeUnauthorized, "Authentication credentials were not provided or are invalid.")
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}
