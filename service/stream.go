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

type StreamRegistry interface {
	Create(ctx context.Context, ownerId uuid.UUID, req dto.CreateStreamRequest) (*entities.Stream, error)
	List(ctx context.Context, ownerId uuid.UUID) ([]*dto.StreamSummary, error)
	// Get returns the stream with its sessions (most recent first) and destinations.
	Get(ctx context.Context, id uuid.UUID) (*entities.Stream, error)
	Find(ctx context.Context, id uuid.UUID) (*entities.Stream, error)
	FindByKey(ctx context.Context, streamKey string) (*entities.Stream, error)
	ListLive(ctx context.Context) ([]*entities.Stream, error)
	Update(ctx context.Context, id uuid.UUID, req dto.UpdateStreamRequest) (*entities.Stream, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status constant.StreamStatus, extra dto.StatusExtra) (*entities.Stream, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// IngestEndpoint is the public address broadcasters push to.
type IngestEndpoint struct {
	Host string
	Port int
}

type streamRegistry struct {
	repo   repository.Repository
	cache  repository.StreamKeyCache
	ingest IngestEndpoint
	now    func() time.Time
}

func NewStreamRegistry(repo repository.Repository, cache repository.StreamKeyCache, ingest IngestEndpoint) StreamRegistry {
	if cache == nil {
		cache = repository.NewNoopStreamKeyCache()
	}
	if ingest.Host == "" {
		ingest.Host = "localhost"
	}
	if ingest.Port <= 0 {
		ingest.Port = constant.DefaultRTMPPort
	}
	return &streamRegistry{
		repo:   repo,
		cache:  cache,
		ingest: ingest,
		now:    time.Now,
	}
}

func (s *streamRegistry) withIngestUrl(stream *entities.Stream) *entities.Stream {
	stream.IngestUrl = stream.IngestURL(s.ingest.Host, s.ingest.Port)
	return stream
}

func generateStreamKey() string {
	return "sk_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (s *streamRegistry) Create(ctx context.Context, ownerId uuid.UUID, req dto.CreateStreamRequest) (*entities.Stream, error) {
	if ownerId == uuid.Nil {
		return nil, invalid("owner is required")
	}

	streamKey := strings.TrimSpace(req.StreamKey)
	if streamKey == "" {
		streamKey = generateStreamKey()
	}
	sourceApp := strings.TrimSpace(req.SourceApp)
	if sourceApp == "" {
		sourceApp = constant.DefaultRTMPApp
	}
	sourceStream := strings.TrimSpace(req.SourceStream)
	if sourceStream == "" {
		sourceStream = streamKey
	}
	if req.AutoPostEnabled && len(req.AutoPostAccounts) == 0 {
		return nil, invalid("autoPostAccounts is required when autoPostEnabled is set")
	}

	stream := &entities.Stream{
		ID:               uuid.New(),
		UserId:           ownerId,
		Title:            req.Title,
		Description:      req.Description,
		StreamKey:        streamKey,
		SourceApp:        sourceApp,
		SourceStream:     sourceStream,
		Status:           constant.StreamStatusCreated,
		AutoPostEnabled:  req.AutoPostEnabled,
		AutoPostAccounts: entities.StringList(req.AutoPostAccounts),
		AutoPostMessage:  req.AutoPostMessage,
	}
	if req.QualitySettings != nil {
		stream.QualitySettings = *req.QualitySettings
	}

	if err := s.repo.CreateStream(ctx, stream); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to create stream")
		return nil, err
	}

	if err := s.cache.Set(ctx, stream.StreamKey, stream.ID); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("stream_id", stream.ID.String()).Msg("failed to cache stream key")
	}

	zerolog.Ctx(ctx).Info().Str("stream_id", stream.ID.String()).Str("user_id", ownerId.String()).Msg("stream created")
	return s.withIngestUrl(stream), nil
}

func (s *streamRegistry) List(ctx context.Context, ownerId uuid.UUID) ([]*dto.StreamSummary, error) {
	streams, err := s.repo.ListStreamsByUser(ctx, ownerId)
	if err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, 0, len(streams))
	for _, stream := range streams {
		ids = append(ids, stream.ID)
	}
	stats, err := s.repo.StreamStats(ctx, ids)
	if err != nil {
		return nil, err
	}

	summaries := make([]*dto.StreamSummary, 0, len(streams))
	for _, stream := range streams {
		summaries = append(summaries, &dto.StreamSummary{Stream: s.withIngestUrl(stream), Stats: stats[stream.ID]})
	}
	return summaries, nil
}

func (s *streamRegistry) Get(ctx context.Context, id uuid.UUID) (*entities.Stream, error) {
	stream, err := s.Find(ctx, id)
	if err != nil {
		return nil, err
	}

	stream.Sessions, err = s.repo.ListSessionsByStream(ctx, id)
	if err != nil {
		return nil, err
	}
	stream.Destinations, err = s.repo.ListDestinationsByStream(ctx, id)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

func (s *streamRegistry) Find(ctx context.Context, id uuid.UUID) (*entities.Stream, error) {
	stream, err := s.repo.FindStreamById(ctx, id)
	if err != nil {
		return nil, notFound(err, "stream")
	}
	return s.withIngestUrl(stream), nil
}

func (s *streamRegistry) FindByKey(ctx context.Context, streamKey string) (*entities.Stream, error) {
	if id, ok := s.cache.Get(ctx, streamKey); ok {
		stream, err := s.repo.FindStreamById(ctx, id)
		if err == nil && stream.StreamKey == streamKey {
			return stream, nil
		}
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		_ = s.cache.Delete(ctx, streamKey)
	}

	stream, err := s.repo.FindStreamByKey(ctx, streamKey)
	if err != nil {
		return nil, notFound(err, "stream")
	}
	if err := s.cache.Set(ctx, streamKey, stream.ID); err != nil {
		zerolog.Ctx(ctx).Debug().Err(err).Msg("failed to cache stream key")
	}
	return stream, nil
}

func (s *streamRegistry) ListLive(ctx context.Context) ([]*entities.Stream, error) {
	return s.repo.ListStreamsByStatus(ctx, constant.StreamStatusLive)
}

func (s *streamRegistry) Update(ctx context.Context, id uuid.UUID, req dto.UpdateStreamRequest) (*entities.Stream, error) {
	stream, err := s.Find(ctx, id)
	if err != nil {
		return nil, err
	}

	var columns []string
	if req.Title != nil {
		stream.Title = *req.Title
		columns = append(columns, "title")
	}
	if req.Description != nil {
		stream.Description = *req.Description
		columns = append(columns, "description")
	}
	if req.SourceApp != nil {
		if strings.TrimSpace(*req.SourceApp) == "" {
			return nil, invalid("sourceApp cannot be empty")
		}
		stream.SourceApp = strings.TrimSpace(*req.SourceApp)
		columns = append(columns, "source_app")
	}
	if req.SourceStream != nil {
		if strings.TrimSpace(*req.SourceStream) == "" {
			return nil, invalid("sourceStream cannot be empty")
		}
		stream.SourceStream = strings.TrimSpace(*req.SourceStream)
		columns = append(columns, "source_stream")
	}
	if req.QualitySettings != nil {
		stream.QualitySettings = *req.QualitySettings
		columns = append(columns, "quality_settings")
	}
	if req.AutoPostEnabled != nil {
		stream.AutoPostEnabled = *req.AutoPostEnabled
		columns = append(columns, "auto_post_enabled")
	}
	if req.AutoPostAccounts != nil {
		stream.AutoPostAccounts = entities.StringList(*req.AutoPostAccounts)
		columns = append(columns, "auto_post_accounts")
	}
	if req.AutoPostMessage != nil {
		stream.AutoPostMessage = *req.AutoPostMessage
		columns = append(columns, "auto_post_message")
	}
	if len(columns) == 0 {
		return stream, nil
	}

	stream.UpdatedAt = s.now()
	columns = append(columns, "updated_at")
	if err := s.repo.UpdateStream(ctx, stream, columns...); err != nil {
		return nil, err
	}
	return stream, nil
}

func canTransition(from, to constant.StreamStatus) bool {
	switch to {
	case constant.StreamStatusLive:
		return true
	case constant.StreamStatusEnded:
		return from == constant.StreamStatusLive || from == constant.StreamStatusEnded
	}
	return false
}

func (s *streamRegistry) UpdateStatus(ctx context.Context, id uuid.UUID, status constant.StreamStatus, extra dto.StatusExtra) (*entities.Stream, error) {
	if !status.Valid() {
		return nil, invalid("unknown stream status " + string(status))
	}
	stream, err := s.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canTransition(stream.Status, status) {
		return nil, invalid("stream cannot move from " + string(stream.Status) + " to " + string(status))
	}

	now := s.now()
	columns := []string{"status", "updated_at"}
	switch status {
	case constant.StreamStatusLive:
		startedAt := now
		if extra.StartedAt != nil {
			startedAt = *extra.StartedAt
		}
		// keep the original start on live -> live re-entry
		if stream.Status != constant.StreamStatusLive || stream.StartedAt == nil || extra.StartedAt != nil {
			stream.StartedAt = &startedAt
			stream.EndedAt = nil
			columns = append(columns, "started_at", "ended_at")
		}
	case constant.StreamStatusEnded:
		endedAt := now
		if extra.EndedAt != nil {
			endedAt = *extra.EndedAt
		}
		stream.EndedAt = &endedAt
		columns = append(columns, "ended_at")
	}
	stream.Status = status
	stream.UpdatedAt = now

	if err := s.repo.UpdateStream(ctx, stream, columns...); err != nil {
		return nil, err
	}

	zerolog.Ctx(ctx).Info().Str("stream_id", id.String()).Str("status", string(status)).Msg("stream status updated")
	return stream, nil
}

// Delete ends the stream's active sessions, then removes the stream along
// with its destinations.
func (s *streamRegistry) Delete(ctx context.Context, id uuid.UUID) error {
	stream, err := s.Find(ctx, id)
	if err != nil {
		return err
	}

	err = s.repo.Transaction(ctx, func(ctx context.Context) error {
		for {
			session, err := s.repo.FindActiveSession(ctx, id)
			if errors.Is(err, repository.ErrNotFound) {
				break
			}
			if err != nil {
				return err
			}
			finishSession(session, s.now(), nil, nil)
			if err := s.repo.UpdateSession(ctx, session, "status", "ended_at", "duration_seconds", "error_message"); err != nil {
				return err
			}
			zerolog.Ctx(ctx).Info().Str("session_id", session.ID.String()).Msg("session force-ended before stream deletion")
		}
		return s.repo.DeleteStream(ctx, id)
	})
	if err != nil {
		return notFound(err, "stream")
	}

	if err := s.cache.Delete(ctx, stream.StreamKey); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("failed to evict stream key")
	}
	zerolog.Ctx(ctx).Info().Str("stream_id", id.String()).Msg("stream deleted")
	return nil
}
