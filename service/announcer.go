package service

import (
	"context"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"restream/dto"
	"restream/entities"
)

const AnnouncementRoutingKey = "stream.live"

// Publisher is satisfied by the RabbitMQ publisher.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, v interface{}) error
}

// Announcer sends the one-shot go-live announcement for a session.
type Announcer interface {
	Announce(ctx context.Context, stream *entities.Stream, session *entities.Session) error
}

type announcer struct {
	publisher Publisher
	watchUrl  func(stream *entities.Stream) string
}

// NewAnnouncer publishes announcement requests. With a nil publisher the
// request is only logged.
func NewAnnouncer(publisher Publisher, watchUrl func(stream *entities.Stream) string) Announcer {
	return &announcer{publisher: publisher, watchUrl: watchUrl}
}

func (a *announcer) Announce(ctx context.Context, stream *entities.Stream, session *entities.Session) error {
	req := dto.AnnouncementRequest{
		AnnouncementId: uuid.New(),
		SessionId:      session.ID,
		StreamId:       stream.ID,
		UserId:         stream.UserId,
		Accounts:       []string(stream.AutoPostAccounts),
		Message:        stream.AutoPostMessage,
	}
	if a.watchUrl != nil {
		req.WatchUrl = a.watchUrl(stream)
	}

	if a.publisher == nil {
		zerolog.Ctx(ctx).Info().Str("session_id", session.ID.String()).Msg("no announcement queue configured, skipping publish")
		return nil
	}
	if err := a.publisher.Publish(ctx, AnnouncementRoutingKey, req); err != nil {
		return err
	}

	zerolog.Ctx(ctx).Info().
		Str("session_id", session.ID.String()).
		Str("announcement_id", req.AnnouncementId.String()).
		Int("accounts", len(req.Accounts)).
		Msg("go-live announcement published")
	return nil
}
