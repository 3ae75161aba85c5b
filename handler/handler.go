package handler

import (
	"context"
	"encoding/json"
	"errors"
	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"restream/dto"
	"restream/service"
)

type ServiceDependencies struct {
	Facade service.Facade
}

// AnnouncementResultHandler records the post ids produced by a go-live
// announcement. Malformed messages and unknown sessions are not retried.
func AnnouncementResultHandler(ctx context.Context, msg amqp.Delivery, deps ServiceDependencies) error {
	var result dto.AnnouncementResult
	if err := json.Unmarshal(msg.Body, &result); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to unmarshal announcement result")
		return backoff.Permanent(err)
	}

	zerolog.Ctx(ctx).Info().
		Str("announcement_id", result.AnnouncementId.String()).
		Str("session_id", result.SessionId.String()).
		Int("post_ids", len(result.PostIds)).
		Msg("received announcement result")

	err := deps.Facade.HandleAnnouncementResult(ctx, result)
	if errors.Is(err, service.ErrNotFound) || errors.Is(err, service.ErrValidation) {
		return backoff.Permanent(err)
	}
	return err
}
