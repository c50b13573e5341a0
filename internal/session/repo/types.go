package repo

import (
	"time"

	"browsergrid/internal/session"
)

const recordCacheTTL = time.Second * 30

type RecordModel struct {
	tableName struct{} `pg:"sessions"` //nolint:unused

	ID           string            `pg:"id,pk"`
	ProjectID    string            `pg:"project_id,notnull"`
	Status       session.Status    `pg:"status,notnull"`
	Region       string            `pg:"region"`
	ContainerID  string            `pg:"container_id"`
	Address      string            `pg:"address"`
	AccessToken  string            `pg:"access_token"`
	KeepAlive    bool              `pg:"keep_alive,use_zero"`
	Metadata     map[string]string `pg:"metadata,type:jsonb"`
	RetryCount   int               `pg:"retry_count,use_zero"`
	CreatedAt    time.Time         `pg:"created_at,notnull"`
	UpdatedAt    time.Time         `pg:"updated_at,notnull"`
	ExpiresAt    time.Time         `pg:"expires_at,notnull"`
	TerminatedAt *time.Time        `pg:"terminated_at"`
}

func toRecord(m *RecordModel) *session.Record {
	return &session.Record{
		ID:           m.ID,
		ProjectID:    m.ProjectID,
		Status:       m.Status,
		Region:       m.Region,
		ContainerID:  m.ContainerID,
		Address:      m.Address,
		AccessToken:  m.AccessToken,
		KeepAlive:    m.KeepAlive,
		Metadata:     m.Metadata,
		RetryCount:   m.RetryCount,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
		ExpiresAt:    m.ExpiresAt,
		TerminatedAt: m.TerminatedAt,
	}
}

func fromRecord(rec *session.Record) *RecordModel {
	return &RecordModel{
		ID:           rec.ID,
		ProjectID:    rec.ProjectID,
		Status:       rec.Status,
		Region:       rec.Region,
		ContainerID:  rec.ContainerID,
		Address:      rec.Address,
		AccessToken:  rec.AccessToken,
		KeepAlive:    rec.KeepAlive,
		Metadata:     rec.Metadata,
		RetryCount:   rec.RetryCount,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
		ExpiresAt:    rec.ExpiresAt,
		TerminatedAt: rec.TerminatedAt,
	}
}

func recordCacheKey(sessionID string) string {
	return "session:" + sessionID + ":record"
}

func callbackKey(containerID string) string {
	return "callback:" + containerID
}
