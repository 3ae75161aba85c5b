package service

import (
	"context"
	"errors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"restream/constant"
	"restream/dto"
	"restream/entities"
)

// Facade sequences the registry, tracker, directory and synthesizer on
// behalf of a caller and enforces ownership.
type Facade interface {
	CreateStream(ctx context.Context, caller dto.Caller, req dto.CreateStreamRequest) (*entities.Stream, error)
	ListStreams(ctx context.Context, caller dto.Caller) ([]*dto.StreamSummary, error)
	GetStream(ctx context.Context, caller dto.Caller, id uuid.UUID) (*entities.Stream, error)
	UpdateStream(ctx context.Context, caller dto.Caller, id uuid.UUID, req dto.UpdateStreamRequest) (*entities.Stream, error)
	DeleteStream(ctx context.Context, caller dto.Caller, id uuid.UUID) error

	StartSession(ctx context.Context, caller dto.Caller, streamId uuid.UUID, req dto.StartSessionRequest) (*entities.Session, error)
	EndSession(ctx context.Context, caller dto.Caller, sessionId uuid.UUID, req dto.EndSessionRequest) (*entities.Session, error)
	UpdateSessionStats(ctx context.Context, caller dto.Caller, sessionId uuid.UUID, metrics dto.SessionMetrics) (*entities.Session, error)
	ListActiveSessions(ctx context.Context, caller dto.Caller) ([]*entities.Session, error)

	ListDestinations(ctx context.Context, caller dto.Caller, streamId uuid.UUID) ([]*entities.RepublishingDestination, error)
	AddDestination(ctx context.Context, caller dto.Caller, streamId uuid.UUID, req dto.CreateDestinationRequest) (*entities.RepublishingDestination, error)
	AddPlatformDestination(ctx context.Context, caller dto.Caller, streamId uuid.UUID, target dto.PlatformTarget) (*entities.RepublishingDestination, error)
	UpdateDestination(ctx context.Context, caller dto.Caller, id uuid.UUID, req dto.UpdateDestinationRequest) (*entities.RepublishingDestination, error)
	// EnableRepublishing adds one destination per platform and reports each
	// outcome separately.
	EnableRepublishing(ctx context.Context, caller dto.Caller, streamId uuid.UUID, req dto.EnableRepublishingRequest) ([]dto.DestinationOutcome, error)
	RemoveDestination(ctx context.Context, caller dto.Caller, id uuid.UUID) error

	GetServerConfig(ctx context.Context, caller dto.Caller) (*dto.ConfigDocument, error)
	Resync(ctx context.Context, caller dto.Caller) (*dto.PushResult, error)
	MonitorStatus(ctx context.Context) dto.MonitorStatus
	TriggerMonitor(ctx context.Context, caller dto.Caller) (bool, error)

	HandleAnnouncementResult(ctx context.Context, result dto.AnnouncementResult) error
	// IngestStarted and IngestStopped serve the media server's publish
	// callbacks, where the stream key is the credential.
	IngestStarted(ctx context.Context, streamKey string) (*entities.Session, error)
	IngestStopped(ctx context.Context, streamKey string) (*entities.Session, error)
}

type facade struct {
	streams      StreamRegistry
	sessions     SessionTracker
	destinations DestinationDirectory
	synthesizer  Synthesizer
	monitor      Monitor
	announcer    Announcer
}

func NewFacade(
	streams StreamRegistry,
	sessions SessionTracker,
	destinations DestinationDirectory,
	synthesizer Synthesizer,
	monitor Monitor,
	announcer Announcer,
) Facade {
	return &facade{
		streams:      streams,
		sessions:     sessions,
		destinations: destinations,
		synthesizer:  synthesizer,
		monitor:      monitor,
		announcer:    announcer,
	}
}

func authorize(caller dto.Caller, ownerId uuid.UUID) error {
	if caller.Role == constant.RoleAdmin {
		return nil
	}
	if caller.UserId == uuid.Nil || caller.UserId != ownerId {
		return ErrForbidden
	}
	return nil
}

func requireAdmin(caller dto.Caller) error {
	if caller.Role != constant.RoleAdmin {
		return errors.Join(ErrForbidden, errors.New("admin role required"))
	}
	return nil
}

func (f *facade) ownedStream(ctx context.Context, caller dto.Caller, id uuid.UUID) (*entities.Stream, error) {
	stream, err := f.streams.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorize(caller, stream.UserId); err != nil {
		return nil, err
	}
	return stream, nil
}

// resync pushes configuration after a state change. The change itself has
// already been stored, so failures are only logged.
func (f *facade) resync(ctx context.Context, reason string) {
	result, err := f.synthesizer.Push(ctx)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("reason", reason).Msg("configuration resync failed")
		return
	}
	if !result.Written {
		zerolog.Ctx(ctx).Warn().Str("reason", reason).Str("error", result.WriteError).Msg("configuration resync not written")
	}
}

func (f *facade) CreateStream(ctx context.Context, caller dto.Caller, req dto.CreateStreamRequest) (*entities.Stream, error) {
	if caller.UserId == uuid.Nil {
		return nil, ErrForbidden
	}
	return f.streams.Create(ctx, caller.UserId, req)
}

func (f *facade) ListStreams(ctx context.Context, caller dto.Caller) ([]*dto.StreamSummary, error) {
	if caller.UserId == uuid.Nil {
		return nil, ErrForbidden
	}
	return f.streams.List(ctx, caller.UserId)
}

func (f *facade) GetStream(ctx context.Context, caller dto.Caller, id uuid.UUID) (*entities.Stream, error) {
	if _, err := f.ownedStream(ctx, caller, id); err != nil {
		return nil, err
	}
	return f.streams.Get(ctx, id)
}

func (f *facade) UpdateStream(ctx context.Context, caller dto.Caller, id uuid.UUID, req dto.UpdateStreamRequest) (*entities.Stream, error) {
	if _, err := f.ownedStream(ctx, caller, id); err != nil {
		return nil, err
	}
	return f.streams.Update(ctx, id, req)
}

func (f *facade) DeleteStream(ctx context.Context, caller dto.Caller, id uuid.UUID) error {
	stream, err := f.ownedStream(ctx, caller, id)
	if err != nil {
		return err
	}
	if err := f.streams.Delete(ctx, id); err != nil {
		return err
	}
	if stream.Status == constant.StreamStatusLive {
		f.resync(ctx, "stream deleted")
	}
	return nil
}

func (f *facade) StartSession(ctx context.Context, caller dto.Caller, streamId uuid.UUID, req dto.StartSessionRequest) (*entities.Session, error) {
	stream, err := f.ownedStream(ctx, caller, streamId)
	if err != nil {
		return nil, err
	}

	session, err := f.sessions.Open(ctx, stream.ID, stream.UserId, req.Metadata)
	if err != nil {
		return nil, err
	}

	startedAt := session.StartedAt
	stream, err = f.streams.UpdateStatus(ctx, stream.ID, constant.StreamStatusLive, dto.StatusExtra{StartedAt: &startedAt})
	if err != nil {
		msg := "failed to mark stream live"
		if _, closeErr := f.sessions.Close(ctx, session.ID, dto.EndSessionRequest{ErrorMessage: &msg}); closeErr != nil {
			zerolog.Ctx(ctx).Error().Err(closeErr).Str("session_id", session.ID.String()).Msg("failed to close session after status error")
		}
		return nil, err
	}

	if _, err := f.destinations.BulkSetStatus(ctx, stream.ID, constant.DestinationStatusInactive); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("stream_id", stream.ID.String()).Msg("failed to reset destination status")
	}
	f.resync(ctx, "session started")

	return f.announce(ctx, stream, session), nil
}

// announce publishes the go-live announcement at most once per session.
func (f *facade) announce(ctx context.Context, stream *entities.Stream, session *entities.Session) *entities.Session {
	if !stream.AutoPostEnabled || session.AnnouncedAt != nil || f.announcer == nil {
		return session
	}
	if err := f.announcer.Announce(ctx, stream, session); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("session_id", session.ID.String()).Msg("failed to publish go-live announcement")
		return session
	}
	updated, err := f.sessions.MarkAnnounced(ctx, session.ID, nil)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("session_id", session.ID.String()).Msg("failed to mark session announced")
		return session
	}
	return updated
}

func (f *facade) EndSession(ctx context.Context, caller dto.Caller, sessionId uuid.UUID, req dto.EndSessionRequest) (*entities.Session, error) {
	session, err := f.sessions.Get(ctx, sessionId)
	if err != nil {
		return nil, err
	}
	if err := authorize(caller, session.UserId); err != nil {
		return nil, err
	}

	session, err = f.sessions.Close(ctx, sessionId, req)
	if err != nil {
		return nil, err
	}

	_, err = f.sessions.FindActive(ctx, session.StreamId)
	if err == nil {
		return session, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	stream, err := f.streams.Find(ctx, session.StreamId)
	if err != nil {
		return nil, err
	}
	if stream.Status == constant.StreamStatusLive {
		if _, err := f.streams.UpdateStatus(ctx, stream.ID, constant.StreamStatusEnded, dto.StatusExtra{EndedAt: session.EndedAt}); err != nil {
			return nil, err
		}
		if _, err := f.destinations.BulkSetStatus(ctx, stream.ID, constant.DestinationStatusInactive); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("stream_id", stream.ID.String()).Msg("failed to quiesce destinations")
		}
		f.resync(ctx, "session ended")
	}
	return session, nil
}

func (f *facade) UpdateSessionStats(ctx context.Context, caller dto.Caller, sessionId uuid.UUID, metrics dto.SessionMetrics) (*entities.Session, error) {
	session, err := f.sessions.Get(ctx, sessionId)
	if err != nil {
		return nil, err
	}
	if err := authorize(caller, session.UserId); err != nil {
		return nil, err
	}
	return f.sessions.UpdateMetrics(ctx, sessionId, metrics)
}

func (f *facade) ListActiveSessions(ctx context.Context, caller dto.Caller) ([]*entities.Session, error) {
	if caller.UserId == uuid.Nil {
		return nil, ErrForbidden
	}
	return f.sessions.ListActiveByOwner(ctx, caller.UserId)
}

func (f *facade) ListDestinations(ctx context.Context, caller dto.Caller, streamId uuid.UUID) ([]*entities.RepublishingDestination, error) {
	if _, err := f.ownedStream(ctx, caller, streamId); err != nil {
		return nil, err
	}
	return f.destinations.List(ctx, streamId)
}

func (f *facade) AddDestination(ctx context.Context, caller dto.Caller, streamId uuid.UUID, req dto.CreateDestinationRequest) (*entities.RepublishingDestination, error) {
	stream, err := f.ownedStream(ctx, caller, streamId)
	if err != nil {
		return nil, err
	}
	return f.synthesizer.AddDestination(ctx, stream, req)
}

func (f *facade) AddPlatformDestination(ctx context.Context, caller dto.Caller, streamId uuid.UUID, target dto.PlatformTarget) (*entities.RepublishingDestination, error) {
	stream, err := f.ownedStream(ctx, caller, streamId)
	if err != nil {
		return nil, err
	}
	return f.synthesizer.AddDestination(ctx, stream, PlatformDestination(target))
}

func (f *facade) UpdateDestination(ctx context.Context, caller dto.Caller, id uuid.UUID, req dto.UpdateDestinationRequest) (*entities.RepublishingDestination, error) {
	destination, err := f.destinations.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorize(caller, destination.UserId); err != nil {
		return nil, err
	}
	destination, err = f.destinations.Update(ctx, id, req)
	if err != nil {
		return nil, err
	}
	if f.streamIsLive(ctx, destination.StreamId) {
		f.resync(ctx, "destination updated")
	}
	return destination, nil
}

func (f *facade) EnableRepublishing(ctx context.Context, caller dto.Caller, streamId uuid.UUID, req dto.EnableRepublishingRequest) ([]dto.DestinationOutcome, error) {
	stream, err := f.ownedStream(ctx, caller, streamId)
	if err != nil {
		return nil, err
	}
	if len(req.Platforms) == 0 {
		return nil, invalid("at least one platform is required")
	}

	outcomes := make([]dto.DestinationOutcome, len(req.Platforms))
	var g errgroup.Group
	g.SetLimit(4)
	for i, target := range req.Platforms {
		g.Go(func() error {
			outcome := dto.DestinationOutcome{Platform: target.Platform}
			destination, err := f.synthesizer.AddDestination(ctx, stream, PlatformDestination(target))
			if err != nil {
				outcome.Error = err.Error()
				zerolog.Ctx(ctx).Warn().Err(err).Str("platform", target.Platform).Msg("failed to enable republishing")
			} else {
				outcome.Success = true
				outcome.Destination = destination
			}
			outcomes[i] = outcome
			return nil
		})
	}
	_ = g.Wait()
	return outcomes, nil
}

func (f *facade) RemoveDestination(ctx context.Context, caller dto.Caller, id uuid.UUID) error {
	destination, err := f.destinations.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := authorize(caller, destination.UserId); err != nil {
		return err
	}
	if err := f.destinations.Delete(ctx, id); err != nil {
		return err
	}
	if destination.Enabled && f.streamIsLive(ctx, destination.StreamId) {
		f.resync(ctx, "destination removed")
	}
	return nil
}

func (f *facade) streamIsLive(ctx context.Context, streamId uuid.UUID) bool {
	stream, err := f.streams.Find(ctx, streamId)
	return err == nil && stream.Status == constant.StreamStatusLive
}

func (f *facade) GetServerConfig(ctx context.Context, caller dto.Caller) (*dto.ConfigDocument, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	return f.synthesizer.Current(ctx)
}

func (f *facade) Resync(ctx context.Context, caller dto.Caller) (*dto.PushResult, error) {
	if caller.UserId == uuid.Nil && caller.Role != constant.RoleAdmin {
		return nil, ErrForbidden
	}
	result, err := f.synthesizer.Push(ctx)
	if err != nil {
		return nil, err
	}
	if !result.Written {
		return result, errors.Join(ErrExternal, errors.New(result.WriteError))
	}
	return result, nil
}

func (f *facade) MonitorStatus(ctx context.Context) dto.MonitorStatus {
	if f.monitor == nil {
		return dto.MonitorStatus{}
	}
	return f.monitor.Status()
}

func (f *facade) TriggerMonitor(ctx context.Context, caller dto.Caller) (bool, error) {
	if err := requireAdmin(caller); err != nil {
		return false, err
	}
	if f.monitor == nil {
		return false, nil
	}
	return f.monitor.Trigger(), nil
}

func (f *facade) HandleAnnouncementResult(ctx context.Context, result dto.AnnouncementResult) error {
	if result.SessionId == uuid.Nil {
		return invalid("sessionId is required")
	}
	session, err := f.sessions.MarkAnnounced(ctx, result.SessionId, result.PostIds)
	if err != nil {
		return err
	}
	zerolog.Ctx(ctx).Info().
		Str("session_id", session.ID.String()).
		Int("post_ids", len(session.AnnouncementIds)).
		Msg("announcement result recorded")
	return nil
}

var systemCaller = dto.Caller{Role: constant.RoleAdmin}

func (f *facade) IngestStarted(ctx context.Context, streamKey string) (*entities.Session, error) {
	stream, err := f.streams.FindByKey(ctx, streamKey)
	if err != nil {
		return nil, err
	}
	if stream.Status == constant.StreamStatusLive {
		if session, err := f.sessions.FindActive(ctx, stream.ID); err == nil {
			return session, nil
		}
	}
	return f.StartSession(ctx, systemCaller, stream.ID, dto.StartSessionRequest{Metadata: map[string]string{"origin": "ingest"}})
}

func (f *facade) IngestStopped(ctx context.Context, streamKey string) (*entities.Session, error) {
	stream, err := f.streams.FindByKey(ctx, streamKey)
	if err != nil {
		return nil, err
	}
	session, err := f.sessions.FindActive(ctx, stream.ID)
	if err != nil {
		return nil, err
	}
	return f.EndSession(ctx, systemCaller, session.ID, dto.EndSessionRequest{})
}
