package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-pg/pg/v10"
	"github.com/redis/go-redis/v9"

	"browsergrid/internal/session"
)

var _ session.Repository = (*Repository)(nil)

// Repository is the durable session record store: Postgres as the source
// of truth, Redis as a short read-through cache invalidated on every
// mutation.
type Repository struct {
	db    *pg.DB
	redis redis.Cmdable
}

func NewRepository(db *pg.DB, redis redis.Cmdable) *Repository {
	return &Repository{
		db:    db,
		redis: redis,
	}
}

func (r *Repository) Create(ctx context.Context, rec *session.Record) error {
	if _, err := r.db.ModelContext(ctx, fromRecord(rec)).Insert(); err != nil {
		return fmt.Errorf("%w: %v", session.ErrStorage, err)
	}
	return nil
}

func (r *Repository) GetByID(ctx context.Context, id string) (*session.Record, error) {
	if r.redis != nil {
		if val, err := r.redis.Get(ctx, recordCacheKey(id)).Result(); err == nil {
			var rec session.Record
			if err := json.Unmarshal([]byte(val), &rec); err == nil {
				return &rec, nil
			}
		}
	}

	m := &RecordModel{ID: id}
	if err := r.db.ModelContext(ctx, m).WherePK().Select(); err != nil {
		if errors.Is(err, pg.ErrNoRows) {
			return nil, session.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", session.ErrStorage, err)
	}
	rec := toRecord(m)

	if r.redis != nil {
		if b, err := json.Marshal(rec); err == nil {
			_ = r.redis.Set(ctx, recordCacheKey(id), b, recordCacheTTL).Err()
		}
	}

	return rec, nil
}

func (r *Repository) GetByContainer(ctx context.Context, containerID string) (*session.Record, error) {
	m := &RecordModel{}
	err := r.db.ModelContext(ctx, m).
		Where("container_id = ?", containerID).
		Limit(1).
		Select()
	if err != nil {
		if errors.Is(err, pg.ErrNoRows) {
			return nil, session.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", session.ErrStorage, err)
	}
	return toRecord(m), nil
}

func (r *Repository) ListByProject(ctx context.Context, projectID string) ([]*session.Record, error) {
	var models []RecordModel
	err := r.db.ModelContext(ctx, &models).
		Where("project_id = ?", projectID).
		Order("created_at DESC").
		Select()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", session.ErrStorage, err)
	}

	recs := make([]*session.Record, 0, len(models))
	for i := range models {
		recs = append(recs, toRecord(&models[i]))
	}
	return recs, nil
}

func (r *Repository) ListByStatus(ctx context.Context, statuses []session.Status) ([]*session.Record, error) {
	var models []RecordModel
	err := r.db.ModelContext(ctx, &models).
		Where("status IN (?)", pg.In(statuses)).
		Order("created_at DESC").
		Select()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", session.ErrStorage, err)
	}

	recs := make([]*session.Record, 0, len(models))
	for i := range models {
		recs = append(recs, toRecord(&models[i]))
	}
	return recs, nil
}

func (r *Repository) ListTerminalUpdatedBefore(ctx context.Context, cutoff time.Time) ([]*session.Record, error) {
	var models []RecordModel
	err := r.db.ModelContext(ctx, &models).
		Where("status IN (?)", pg.In([]session.Status{session.StatusStopped, session.StatusFailed})).
		Where("updated_at < ?", cutoff).
		Select()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", session.ErrStorage, err)
	}

	recs := make([]*session.Record, 0, len(models))
	for i := range models {
		recs = append(recs, toRecord(&models[i]))
	}
	return recs, nil
}

// Transition is the guarded conditional update every status change goes
// through: the row only moves when it is still in one of the expected
// prior statuses.
func (r *Repository) Transition(ctx context.Context, id string, from []session.Status, to session.Status) error {
	res, err := r.db.ModelContext(ctx, (*RecordModel)(nil)).
		Set("status = ?", to).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Where("status IN (?)", pg.In(from)).
		Update()
	if err != nil {
		return fmt.Errorf("%w: %v", session.ErrStorage, err)
	}

	if res.RowsAffected() == 0 {
		n, err := r.db.ModelContext(ctx, (*RecordModel)(nil)).Where("id = ?", id).Count()
		if err != nil {
			return fmt.Errorf("%w: %v", session.ErrStorage, err)
		}
		if n == 0 {
			return session.ErrNotFound
		}
		return session.ErrStaleTransition
	}

	r.invalidate(ctx, id)
	return nil
}

func (r *Repository) SetAccessToken(ctx context.Context, id, token string) error {
	return r.setColumn(ctx, id, "access_token = ?", token)
}

func (r *Repository) SetContainer(ctx context.Context, id, containerID string) error {
	return r.setColumn(ctx, id, "container_id = ?", containerID)
}

func (r *Repository) SetAddress(ctx context.Context, id, address string) error {
	return r.setColumn(ctx, id, "address = ?", address)
}

func (r *Repository) SetTerminated(ctx context.Context, id string, at time.Time) error {
	return r.setColumn(ctx, id, "terminated_at = ?", at)
}

func (r *Repository) IncrementRetry(ctx context.Context, id string) (int, error) {
	var count int
	_, err := r.db.QueryOneContext(ctx, pg.Scan(&count),
		"UPDATE sessions SET retry_count = retry_count + 1, updated_at = now() WHERE id = ? RETURNING retry_count", id)
	if err != nil {
		if errors.Is(err, pg.ErrNoRows) {
			return 0, session.ErrNotFound
		}
		return 0, fmt.Errorf("%w: %v", session.ErrStorage, err)
	}

	r.invalidate(ctx, id)
	return count, nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ModelContext(ctx, &RecordModel{ID: id}).WherePK().Delete()
	if err != nil {
		return fmt.Errorf("%w: %v", session.ErrStorage, err)
	}
	if res.RowsAffected() == 0 {
		return session.ErrNotFound
	}

	r.invalidate(ctx, id)
	return nil
}

func (r *Repository) setColumn(ctx context.Context, id, expr string, val any) error {
	res, err := r.db.ModelContext(ctx, (*RecordModel)(nil)).
		Set(expr, val).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Update()
	if err != nil {
		return fmt.Errorf("%w: %v", session.ErrStorage, err)
	}
	if res.RowsAffected() == 0 {
		return session.ErrNotFound
	}

	r.invalidate(ctx, id)
	return nil
}

func (r *Repository) invalidate(ctx context.Context, id string) {
	if r.redis != nil {
		_ = r.redis.Del(ctx, recordCacheKey(id)).Err()
	}
}
