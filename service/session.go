package service

import (
	"context"
	"errors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"restream/constant"
	"restream/dto"
	"restream/entities"
	"restream/repository"
	"strings"
	"time"
)

type SessionTracker interface {
	// Open starts an active session for the stream. An active session already
	// on the stream is ended first, in the same transaction.
	Open(ctx context.Context, streamId, ownerId uuid.UUID, metadata map[string]string) (*entities.Session, error)
	Get(ctx context.Context, id uuid.UUID) (*entities.Session, error)
	UpdateMetrics(ctx context.Context, id uuid.UUID, metrics dto.SessionMetrics) (*entities.Session, error)
	Close(ctx context.Context, id uuid.UUID, req dto.EndSessionRequest) (*entities.Session, error)
	MarkAnnounced(ctx context.Context, id uuid.UUID, postIds []string) (*entities.Session, error)
	ListActiveByOwner(ctx context.Context, ownerId uuid.UUID) ([]*entities.Session, error)
	ListByStream(ctx context.Context, streamId uuid.UUID) ([]*entities.Session, error)
	FindActive(ctx context.Context, streamId uuid.UUID) (*entities.Session, error)
	// FindOrCreateActive reports whether the returned session was created.
	FindOrCreateActive(ctx context.Context, streamId, ownerId uuid.UUID) (*entities.Session, bool, error)
}

type sessionTracker struct {
	repo repository.Repository
	now  func() time.Time
}

func NewSessionTracker(repo repository.Repository) SessionTracker {
	return &sessionTracker{
		repo: repo,
		now:  time.Now,
	}
}

func generateSessionKey() string {
	return "ss_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// finishSession moves session out of active. The duration is endedAt minus
// startedAt in whole seconds unless one is given.
func finishSession(session *entities.Session, endedAt time.Time, errorMessage *string, duration *int64) {
	session.EndedAt = &endedAt
	if duration != nil {
		d := *duration
		session.DurationSeconds = &d
	} else {
		d := int64(endedAt.Sub(session.StartedAt) / time.Second)
		if d < 0 {
			d = 0
		}
		session.DurationSeconds = &d
	}
	if errorMessage != nil && *errorMessage != "" {
		session.Status = constant.SessionStatusError
		session.ErrorMessage = errorMessage
	} else {
		session.Status = constant.SessionStatusEnded
	}
}

func (t *sessionTracker) Open(ctx context.Context, streamId, ownerId uuid.UUID, metadata map[string]string) (*entities.Session, error) {
	if streamId == uuid.Nil || ownerId == uuid.Nil {
		return nil, invalid("stream and owner are required")
	}

	now := t.now()
	session := &entities.Session{
		ID:                uuid.New(),
		StreamId:          streamId,
		UserId:            ownerId,
		SessionKey:        generateSessionKey(),
		Status:            constant.SessionStatusActive,
		Metadata:          entities.Metadata(metadata),
		StartedAt:         now,
		ConnectionQuality: 1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	superseded, err := t.repo.OpenSession(ctx, session)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("stream_id", streamId.String()).Msg("failed to open session")
		return nil, err
	}
	for _, prev := range superseded {
		zerolog.Ctx(ctx).Warn().
			Str("stream_id", streamId.String()).
			Str("session_id", prev.ID.String()).
			Msg("ended previous active session")
	}

	zerolog.Ctx(ctx).Info().Str("stream_id", streamId.String()).Str("session_id", session.ID.String()).Msg("session opened")
	return session, nil
}

func (t *sessionTracker) Get(ctx context.Context, id uuid.UUID) (*entities.Session, error) {
	session, err := t.repo.FindSessionById(ctx, id)
	if err != nil {
		return nil, notFound(err, "session")
	}
	return session, nil
}

func (t *sessionTracker) UpdateMetrics(ctx context.Context, id uuid.UUID, metrics dto.SessionMetrics) (*entities.Session, error) {
	session, err := t.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.Status != constant.SessionStatusActive {
		return nil, errors.Join(ErrSessionClosed, errors.New("session "+id.String()+" is "+string(session.Status)))
	}
	if metrics.Empty() {
		return session, nil
	}

	columns := applyMetrics(session, metrics)
	if len(columns) == 0 {
		return session, nil
	}
	session.UpdatedAt = t.now()
	columns = append(columns, "updated_at")

	if err := t.repo.UpdateSession(ctx, session, columns...); err != nil {
		return nil, err
	}
	return session, nil
}

// applyMetrics merges the supplied fields into session and returns the
// columns that changed. Peak viewers never decreases.
func applyMetrics(session *entities.Session, m dto.SessionMetrics) []string {
	var columns []string
	if m.PeakViewers != nil && *m.PeakViewers > session.PeakViewers {
		session.PeakViewers = *m.PeakViewers
		columns = append(columns, "peak_viewers")
	}
	if m.TotalViewers != nil && *m.TotalViewers != session.TotalViewers {
		session.TotalViewers = *m.TotalViewers
		columns = append(columns, "total_viewers")
	}
	if m.BytesSent != nil && *m.BytesSent != session.BytesSent {
		session.BytesSent = *m.BytesSent
		columns = append(columns, "bytes_sent")
	}
	if m.BytesReceived != nil && *m.BytesReceived != session.BytesReceived {
		session.BytesReceived = *m.BytesReceived
		columns = append(columns, "bytes_received")
	}
	if m.AverageBitrate != nil && *m.AverageBitrate != session.AverageBitrate {
		session.AverageBitrate = *m.AverageBitrate
		columns = append(columns, "average_bitrate")
	}
	if m.DroppedFrames != nil && *m.DroppedFrames != session.DroppedFrames {
		session.DroppedFrames = *m.DroppedFrames
		columns = append(columns, "dropped_frames")
	}
	if m.ConnectionQuality != nil {
		q := clamp01(*m.ConnectionQuality)
		if q != session.ConnectionQuality {
			session.ConnectionQuality = q
			columns = append(columns, "connection_quality")
		}
	}
	if m.DurationSeconds != nil {
		d := *m.DurationSeconds
		session.DurationSeconds = &d
		columns = append(columns, "duration_seconds")
	}
	return columns
}

func (t *sessionTracker) Close(ctx context.Context, id uuid.UUID, req dto.EndSessionRequest) (*entities.Session, error) {
	session, err := t.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.Status != constant.SessionStatusActive {
		zerolog.Ctx(ctx).Debug().Str("session_id", id.String()).Str("status", string(session.Status)).Msg("session already closed")
		return session, nil
	}

	columns := applyMetrics(session, req.SessionMetrics)

	endedAt := t.now()
	if req.EndedAt != nil {
		endedAt = *req.EndedAt
	}
	finishSession(session, endedAt, req.ErrorMessage, req.DurationSeconds)
	session.UpdatedAt = t.now()
	columns = append(columns, "status", "ended_at", "duration_seconds", "error_message", "updated_at")

	if err := t.repo.UpdateSession(ctx, session, dedupe(columns)...); err != nil {
		return nil, err
	}

	zerolog.Ctx(ctx).Info().
		Str("session_id", id.String()).
		Str("status", string(session.Status)).
		Int64("duration_seconds", *session.DurationSeconds).
		Msg("session closed")
	return session, nil
}

// MarkAnnounced stamps the first announcement time and appends post ids not
// already recorded.
func (t *sessionTracker) MarkAnnounced(ctx context.Context, id uuid.UUID, postIds []string) (*entities.Session, error) {
	session, err := t.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	var columns []string
	if session.AnnouncedAt == nil {
		now := t.now()
		session.AnnouncedAt = &now
		columns = append(columns, "announced_at")
	}

	seen := make(map[string]struct{}, len(session.AnnouncementIds))
	for _, postId := range session.AnnouncementIds {
		seen[postId] = struct{}{}
	}
	added := false
	for _, postId := range postIds {
		if postId == "" {
			continue
		}
		if _, ok := seen[postId]; ok {
			continue
		}
		seen[postId] = struct{}{}
		session.AnnouncementIds = append(session.AnnouncementIds, postId)
		added = true
	}
	if added {
		columns = append(columns, "announcement_ids")
	}
	if len(columns) == 0 {
		return session, nil
	}

	session.UpdatedAt = t.now()
	columns = append(columns, "updated_at")
	if err := t.repo.UpdateSession(ctx, session, columns...); err != nil {
		return nil, err
	}
	return session, nil
}

func (t *sessionTracker) ListActiveByOwner(ctx context.Context, ownerId uuid.UUID) ([]*entities.Session, error) {
	return t.repo.ListActiveSessionsByUser(ctx, ownerId)
}

func (t *sessionTracker) ListByStream(ctx context.Context, streamId uuid.UUID) ([]*entities.Session, error) {
	return t.repo.ListSessionsByStream(ctx, streamId)
}

func (t *sessionTracker) FindActive(ctx context.Context, streamId uuid.UUID) (*entities.Session, error) {
	session, err := t.repo.FindActiveSession(ctx, streamId)
	if err != nil {
		return nil, notFound(err, "active session")
	}
	return session, nil
}

func (t *sessionTracker) FindOrCreateActive(ctx context.Context, streamId, ownerId uuid.UUID) (*entities.Session, bool, error) {
	session, err := t.FindActive(ctx, streamId)
	if err == nil {
		return session, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	session, err = t.Open(ctx, streamId, ownerId, map[string]string{"origin": "monitor"})
	if err != nil {
		return nil, false, err
	}
	return session, true, nil
}

func dedupe(columns []string) []string {
	seen := make(map[string]struct{}, len(columns))
	out := columns[:0]
	for _, c := range columns {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

func clamp01(v float64) float64 {
	switch {
	case v != v:
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
