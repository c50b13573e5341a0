package session

import (
	"encoding/json"
	"strings"
	"time"
)

type Status string

const (
	StatusCreating     Status = "creating"
	StatusProvisioning Status = "provisioning"
	StatusStarting     Status = "starting"
	StatusReady        Status = "ready"
	StatusTerminating  Status = "terminating"
	StatusStopped      Status = "stopped"
	StatusFailed       Status = "failed"
)

// ExternalStatus is the coarse status exposed through the API. Every
// internal status maps to exactly one external status.
type ExternalStatus string

const (
	ExternalRunning   ExternalStatus = "RUNNING"
	ExternalCompleted ExternalStatus = "COMPLETED"
	ExternalError     ExternalStatus = "ERROR"
)

var externalStatus = map[Status]ExternalStatus{
	StatusCreating:     ExternalRunning,
	StatusProvisioning: ExternalRunning,
	StatusStarting:     ExternalRunning,
	StatusReady:        ExternalRunning,
	StatusTerminating:  ExternalRunning,
	StatusStopped:      ExternalCompleted,
	StatusFailed:       ExternalError,
}

func (s Status) External() ExternalStatus {
	return externalStatus[s]
}

func (s Status) Terminal() bool {
	return s == StatusStopped || s == StatusFailed
}

// NonTerminalStatuses is the guard set for transitions that may only move
// a live session, e.g. forcing a session to failed.
func NonTerminalStatuses() []Status {
	return []Status{
		StatusCreating,
		StatusProvisioning,
		StatusStarting,
		StatusReady,
		StatusTerminating,
	}
}

// Record is the single source of truth for a session's state.
type Record struct {
	ID           string            `json:"id"`
	ProjectID    string            `json:"project_id"`
	Status       Status            `json:"status"`
	Region       string            `json:"region"`
	ContainerID  string            `json:"container_id,omitempty"` // scheduler handle, empty until launch succeeds
	Address      string            `json:"address,omitempty"`      // connect URL, empty until network-ready
	AccessToken  string            `json:"access_token,omitempty"` // set once, immutable afterward
	KeepAlive    bool              `json:"keep_alive"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	RetryCount   int               `json:"retry_count"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	ExpiresAt    time.Time         `json:"expires_at"`
	TerminatedAt *time.Time        `json:"terminated_at,omitempty"`
}

// CreateParams are the caller-supplied options for CreateSession. The
// project ID comes from the validated caller identity, everything else
// from the request body.
type CreateParams struct {
	ProjectID         string
	Region            string
	TimeoutSeconds    int
	KeepAlive         bool
	Metadata          map[string]string
	Async             bool
	ContinuationToken string // async mode only; caller's workflow resume token
}

// ListFilter narrows a per-project session listing. Status filters on the
// external status; MetadataQuery is either a JSON object (exact match per
// key) or a plain substring matched against metadata keys and values.
type ListFilter struct {
	Status        ExternalStatus
	MetadataQuery string
}

// MatchMetadata is the one canonical metadata filter shared by every entry
// point. An empty query matches everything.
func MatchMetadata(meta map[string]string, query string) bool {
	if query == "" {
		return true
	}

	var exact map[string]string
	if err := json.Unmarshal([]byte(query), &exact); err == nil {
		for k, want := range exact {
			if got, ok := meta[k]; !ok || got != want {
				return false
			}
		}
		return true
	}

	for k, v := range meta {
		if strings.Contains(k, query) || strings.Contains(v, query) {
			return true
		}
	}
	return false
}
