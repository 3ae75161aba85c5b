package repository

import (
	"context"
	"github.com/google/uuid"
	"gorm.io/gorm/clause"
	"restream/constant"
	"restream/entities"
	"time"
)

type SessionRepository interface {
	// OpenSession ends any active session of the same stream and inserts
	// session in one transaction. It returns the sessions it ended.
	OpenSession(ctx context.Context, session *entities.Session) ([]*entities.Session, error)
	FindSessionById(ctx context.Context, id uuid.UUID) (*entities.Session, error)
	FindActiveSession(ctx context.Context, streamId uuid.UUID) (*entities.Session, error)
	ListActiveSessionsByUser(ctx context.Context, userId uuid.UUID) ([]*entities.Session, error)
	ListSessionsByStream(ctx context.Context, streamId uuid.UUID) ([]*entities.Session, error)
	UpdateSession(ctx context.Context, session *entities.Session, columns ...string) error
}

func (r *repo) OpenSession(ctx context.Context, session *entities.Session) ([]*entities.Session, error) {
	var superseded []*entities.Session
	err := r.Transaction(ctx, func(ctx context.Context) error {
		db := r.GetDB(ctx)
		var active []*entities.Session
		if err := db.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("stream_id = ? AND status = ?", session.StreamId, constant.SessionStatusActive).
			Find(&active).Error; err != nil {
			return err
		}

		for _, prev := range active {
			endedAt := session.StartedAt
			duration := int64(endedAt.Sub(prev.StartedAt) / time.Second)
			prev.Status = constant.SessionStatusEnded
			prev.EndedAt = &endedAt
			if prev.DurationSeconds == nil {
				prev.DurationSeconds = &duration
			}
			if err := updateColumns(db, prev, []string{"status", "ended_at", "duration_seconds"}); err != nil {
				return err
			}
			superseded = append(superseded, prev)
		}

		if session.ID == uuid.Nil {
			session.ID = uuid.New()
		}
		return db.Create(session).Error
	})
	if err != nil {
		return nil, err
	}
	return superseded, nil
}

func (r *repo) FindSessionById(ctx context.Context, id uuid.UUID) (*entities.Session, error) {
	session := &entities.Session{}
	err := r.GetDB(ctx).First(session, "id = ?", id).Error
	if err != nil {
		return nil, translate(err)
	}
	return session, nil
}

func (r *repo) FindActiveSession(ctx context.Context, streamId uuid.UUID) (*entities.Session, error) {
	session := &entities.Session{}
	err := r.GetDB(ctx).
		Where("stream_id = ? AND status = ?", streamId, constant.SessionStatusActive).
		Order("started_at DESC").
		First(session).Error
	if err != nil {
		return nil, translate(err)
	}
	return session, nil
}

func (r *repo) ListActiveSessionsByUser(ctx context.Context, userId uuid.UUID) ([]*entities.Session, error) {
	var sessions []*entities.Session
	err := r.GetDB(ctx).
		Where("user_id = ? AND status = ?", userId, constant.SessionStatusActive).
		Order("started_at DESC").
		Find(&sessions).Error
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *repo) ListSessionsByStream(ctx context.Context, streamId uuid.UUID) ([]*entities.Session, error) {
	var sessions []*entities.Session
	err := r.GetDB(ctx).Where("stream_id = ?", streamId).Order("started_at DESC").Find(&sessions).Error
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *repo) UpdateSession(ctx context.Context, session *entities.Session, columns ...string) error {
	return updateColumns(r.GetDB(ctx), session, columns)
}
