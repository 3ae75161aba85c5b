package repository

import (
	"context"
	"github.com/google/uuid"
	"restream/constant"
	"restream/dto"
	"restream/entities"
)

type StreamRepository interface {
	CreateStream(ctx context.Context, stream *entities.Stream) error
	FindStreamById(ctx context.Context, id uuid.UUID) (*entities.Stream, error)
	FindStreamByKey(ctx context.Context, streamKey string) (*entities.Stream, error)
	ListStreamsByUser(ctx context.Context, userId uuid.UUID) ([]*entities.Stream, error)
	ListStreamsByStatus(ctx context.Context, status constant.StreamStatus) ([]*entities.Stream, error)
	UpdateStream(ctx context.Context, stream *entities.Stream, columns ...string) error
	DeleteStream(ctx context.Context, id uuid.UUID) error
	StreamStats(ctx context.Context, streamIds []uuid.UUID) (map[uuid.UUID]dto.StreamStats, error)
}

func (r *repo) CreateStream(ctx context.Context, stream *entities.Stream) error {
	if stream.ID == uuid.Nil {
		stream.ID = uuid.New()
	}
	return r.GetDB(ctx).Create(stream).Error
}

func (r *repo) FindStreamById(ctx context.Context, id uuid.UUID) (*entities.Stream, error) {
	stream := &entities.Stream{}
	err := r.GetDB(ctx).First(stream, "id = ?", id).Error
	if err != nil {
		return nil, translate(err)
	}

	return stream, nil
}

func (r *repo) FindStreamByKey(ctx context.Context, streamKey string) (*entities.Stream, error) {
	stream := &entities.Stream{}
	err := r.GetDB(ctx).First(stream, "stream_key = ?", streamKey).Error
	if err != nil {
		return nil, translate(err)
	}

	return stream, nil
}

func (r *repo) ListStreamsByUser(ctx context.Context, userId uuid.UUID) ([]*entities.Stream, error) {
	var streams []*entities.Stream
	err := r.GetDB(ctx).Where("user_id = ?", userId).Order("created_at DESC").Find(&streams).Error
	if err != nil {
		return nil, err
	}
	return streams, nil
}

func (r *repo) ListStreamsByStatus(ctx context.Context, status constant.StreamStatus) ([]*entities.Stream, error) {
	var streams []*entities.Stream
	err := r.GetDB(ctx).Where("status = ?", status).Order("id ASC").Find(&streams).Error
	if err != nil {
		return nil, err
	}
	return streams, nil
}

func (r *repo) UpdateStream(ctx context.Context, stream *entities.Stream, columns ...string) error {
	return updateColumns(r.GetDB(ctx), stream, columns)
}

// DeleteStream removes the stream together with its destinations and sessions.
func (r *repo) DeleteStream(ctx context.Context, id uuid.UUID) error {
	return r.Transaction(ctx, func(ctx context.Context) error {
		db := r.GetDB(ctx)
		if err := db.Where("stream_id = ?", id).Delete(&entities.RepublishingDestination{}).Error; err != nil {
			return err
		}
		if err := db.Where("stream_id = ?", id).Delete(&entities.Session{}).Error; err != nil {
			return err
		}
		res := db.Where("id = ?", id).Delete(&entities.Stream{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

type sessionAggregate struct {
	StreamId             uuid.UUID
	SessionCount         int64
	TotalDurationSeconds int64
	PeakViewers          int
	TotalViewers         int64
	AverageQuality       float64
}

type destinationAggregate struct {
	StreamId uuid.UUID
	Total    int64
	Enabled  int64
}

func (r *repo) StreamStats(ctx context.Context, streamIds []uuid.UUID) (map[uuid.UUID]dto.StreamStats, error) {
	stats := make(map[uuid.UUID]dto.StreamStats, len(streamIds))
	if len(streamIds) == 0 {
		return stats, nil
	}

	var sessions []sessionAggregate
	err := r.GetDB(ctx).Model(&entities.Session{}).
		Select(`stream_id,
			COUNT(*) AS session_count,
			COALESCE(SUM(duration_seconds), 0) AS total_duration_seconds,
			COALESCE(MAX(peak_viewers), 0) AS peak_viewers,
			COALESCE(SUM(total_viewers), 0) AS total_viewers,
			COALESCE(AVG(connection_quality), 0) AS average_quality`).
		Where("stream_id IN ?", streamIds).
		Group("stream_id").
		Scan(&sessions).Error
	if err != nil {
		return nil, err
	}

	var destinations []destinationAggregate
	err = r.GetDB(ctx).Model(&entities.RepublishingDestination{}).
		Select(`stream_id,
			COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN enabled THEN 1 ELSE 0 END), 0) AS enabled`).
		Where("stream_id IN ?", streamIds).
		Group("stream_id").
		Scan(&destinations).Error
	if err != nil {
		return nil, err
	}

	for _, s := range sessions {
		st := stats[s.StreamId]
		st.SessionCount = s.SessionCount
		st.TotalDurationSeconds = s.TotalDurationSeconds
		st.PeakViewers = s.PeakViewers
		st.TotalViewers = s.TotalViewers
		st.AverageQuality = s.AverageQuality
		stats[s.StreamId] = st
	}
	for _, d := range destinations {
		st := stats[d.StreamId]
		st.DestinationCount = d.Total
		st.EnabledDestinationCount = d.Enabled
		stats[d.StreamId] = st
	}

	return stats, nil
}
