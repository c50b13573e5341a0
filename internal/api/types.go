package api

import (
	"time"

	"browsergrid/internal/artifact"
	"browsergrid/internal/session"
)

type CreateSessionRequest struct {
	Region            string            `json:"region"`
	TimeoutSeconds    int               `json:"timeout_seconds"`
	KeepAlive         bool              `json:"keep_alive"`
	Metadata          map[string]string `json:"metadata"`
	Async             bool              `json:"async"`
	ContinuationToken string            `json:"continuation_token"`
}

type ContainerReadyRequest struct {
	Address string `json:"address" binding:"required"`
}

type SessionResponse struct {
	ID           string            `json:"id"`
	ProjectID    string            `json:"project_id"`
	Status       string            `json:"status"`
	Region       string            `json:"region"`
	Address      string            `json:"address,omitempty"`
	AccessToken  string            `json:"access_token,omitempty"`
	KeepAlive    bool              `json:"keep_alive"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    string            `json:"created_at"`
	ExpiresAt    string            `json:"expires_at"`
	TerminatedAt string            `json:"terminated_at,omitempty"`
}

type SessionListResponse struct {
	Sessions []SessionResponse `json:"sessions"`
}

type RecordingListResponse struct {
	SessionID  string            `json:"session_id"`
	Recordings []artifact.Object `json:"recordings"`
}

type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Details string `json:"details,omitempty"`
}

func toSessionResponse(rec *session.Record) SessionResponse {
	resp := SessionResponse{
		ID:          rec.ID,
		ProjectID:   rec.ProjectID,
		Status:      string(rec.Status.External()),
		Region:      rec.Region,
		Address:     rec.Address,
		AccessToken: rec.AccessToken,
		KeepAlive:   rec.KeepAlive,
		Metadata:    rec.Metadata,
		CreatedAt:   formatTime(rec.CreatedAt),
		ExpiresAt:   formatTime(rec.ExpiresAt),
	}
	if rec.TerminatedAt != nil {
		resp.TerminatedAt = formatTime(*rec.TerminatedAt)
	}
	return resp
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}
