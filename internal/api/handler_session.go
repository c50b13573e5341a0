package api

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"browsergrid/internal/artifact"
	"browsergrid/internal/session"
)

// SessionService is the orchestrator surface the HTTP layer depends on.
type SessionService interface {
	CreateSession(ctx context.Context, params session.CreateParams) (*session.Record, error)
	GetSession(ctx context.Context, projectID, id string) (*session.Record, error)
	ListSessions(ctx context.Context, projectID string, filter session.ListFilter) ([]*session.Record, error)
	TerminateSession(ctx context.Context, id string) error
	HandleContainerReady(ctx context.Context, handle, address string) error
}

type SessionHandler struct {
	svc       SessionService
	artifacts artifact.Store
}

func NewSessionHandler(svc SessionService, artifacts artifact.Store) *SessionHandler {
	return &SessionHandler{
		svc:       svc,
		artifacts: artifacts,
	}
}

// CreateSession handles POST /api/v1/sessions.
func (h *SessionHandler) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErrorWithDetails(c, http.StatusBadRequest, ErrInvalidRequest, err.Error())
		return
	}

	rec, err := h.svc.CreateSession(c.Request.Context(), session.CreateParams{
		ProjectID:         projectID(c),
		Region:            req.Region,
		TimeoutSeconds:    req.TimeoutSeconds,
		KeepAlive:         req.KeepAlive,
		Metadata:          req.Metadata,
		Async:             req.Async,
		ContinuationToken: req.ContinuationToken,
	})
	if err != nil {
		respondError(c, mapServiceError(err), err)
		return
	}

	code := http.StatusCreated
	if req.Async {
		code = http.StatusAccepted
	}
	c.JSON(code, toSessionResponse(rec))
}

// GetSession handles GET /api/v1/sessions/:id.
func (h *SessionHandler) GetSession(c *gin.Context) {
	rec, err := h.svc.GetSession(c.Request.Context(), projectID(c), c.Param("id"))
	if err != nil {
		respondError(c, mapServiceError(err), err)
		return
	}
	c.JSON(http.StatusOK, toSessionResponse(rec))
}

// ListSessions handles GET /api/v1/sessions with optional status and
// metadata filters.
func (h *SessionHandler) ListSessions(c *gin.Context) {
	var filter session.ListFilter

	if status := c.Query("status"); status != "" {
		switch session.ExternalStatus(status) {
		case session.ExternalRunning, session.ExternalCompleted, session.ExternalError:
			filter.Status = session.ExternalStatus(status)
		default:
			respondErrorWithDetails(c, http.StatusBadRequest, ErrInvalidStatusFilter, status)
			return
		}
	}
	filter.MetadataQuery = c.Query("metadata")

	records, err := h.svc.ListSessions(c.Request.Context(), projectID(c), filter)
	if err != nil {
		respondError(c, mapServiceError(err), err)
		return
	}

	resp := SessionListResponse{Sessions: make([]SessionResponse, 0, len(records))}
	for _, rec := range records {
		resp.Sessions = append(resp.Sessions, toSessionResponse(rec))
	}
	c.JSON(http.StatusOK, resp)
}

// TerminateSession handles DELETE /api/v1/sessions/:id. Termination is
// idempotent, so deleting an already-finished session succeeds.
func (h *SessionHandler) TerminateSession(c *gin.Context) {
	id := c.Param("id")

	// Scope check first so one project cannot terminate another's session.
	if _, err := h.svc.GetSession(c.Request.Context(), projectID(c), id); err != nil {
		respondError(c, mapServiceError(err), err)
		return
	}

	if err := h.svc.TerminateSession(c.Request.Context(), id); err != nil {
		respondError(c, mapServiceError(err), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "status": string(session.ExternalCompleted)})
}

// ListRecordings handles GET /api/v1/sessions/:id/recordings.
func (h *SessionHandler) ListRecordings(c *gin.Context) {
	id := c.Param("id")

	if _, err := h.svc.GetSession(c.Request.Context(), projectID(c), id); err != nil {
		respondError(c, mapServiceError(err), err)
		return
	}

	objects, err := h.artifacts.List(c.Request.Context(), id)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, RecordingListResponse{
		SessionID:  id,
		Recordings: objects,
	})
}

// DownloadArtifact handles GET /artifacts/:id/*key. The signed URL
// carries its own authorization, so this route sits outside the
// project-scoped group.
func (h *SessionHandler) DownloadArtifact(c *gin.Context) {
	id := c.Param("id")
	key := c.Param("key")
	if len(key) > 0 && key[0] == '/' {
		key = key[1:]
	}

	expires, err := strconv.ParseInt(c.Query("expires"), 10, 64)
	if err != nil || !h.artifacts.Verify(id, key, expires, c.Query("sig")) {
		respondError(c, http.StatusForbidden, ErrInvalidRequest)
		return
	}

	rc, err := h.artifacts.Open(c.Request.Context(), id, key)
	if err != nil {
		code := http.StatusInternalServerError
		if err == artifact.ErrArtifactMissing {
			code = http.StatusNotFound
		}
		respondError(c, code, err)
		return
	}
	defer rc.Close()

	c.Header("Content-Type", "application/octet-stream")
	c.Status(http.StatusOK)
	io.Copy(c.Writer, rc)
}

// ContainerReady handles POST /internal/containers/:handle/ready, the
// in-container agent's callback once the browser is listening.
func (h *SessionHandler) ContainerReady(c *gin.Context) {
	var req ContainerReadyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErrorWithDetails(c, http.StatusBadRequest, ErrInvalidRequest, err.Error())
		return
	}

	if err := h.svc.HandleContainerReady(c.Request.Context(), c.Param("handle"), req.Address); err != nil {
		respondError(c, mapServiceError(err), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"acknowledged": true})
}

// Health handles GET /health.
func (h *SessionHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().Format(time.RFC3339),
	})
}
