package handler

import (
	"context"
	"errors"
	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"restream/dto"
	"restream/service"
	"testing"
)

type resultRecorder struct {
	service.Facade
	err     error
	results []dto.AnnouncementResult
}

func (r *resultRecorder) HandleAnnouncementResult(ctx context.Context, result dto.AnnouncementResult) error {
	r.results = append(r.results, result)
	return r.err
}

func isPermanent(err error) bool {
	var perm *backoff.PermanentError
	return errors.As(err, &perm)
}

func TestAnnouncementResultHandler(t *testing.T) {
	sessionId := uuid.New()
	body := []byte(`{"announcementId":"` + uuid.NewString() + `","sessionId":"` + sessionId.String() + `","postIds":["p1"]}`)

	t.Run("records result", func(t *testing.T) {
		facade := &resultRecorder{}
		err := AnnouncementResultHandler(context.Background(), amqp.Delivery{Body: body}, ServiceDependencies{Facade: facade})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(facade.results) != 1 || facade.results[0].SessionId != sessionId || facade.results[0].PostIds[0] != "p1" {
			t.Errorf("unexpected results %+v", facade.results)
		}
	})

	t.Run("malformed body is not retried", func(t *testing.T) {
		facade := &resultRecorder{}
		err := AnnouncementResultHandler(context.Background(), amqp.Delivery{Body: []byte("{")}, ServiceDependencies{Facade: facade})
		if !isPermanent(err) {
			t.Errorf("expected permanent error, got %v", err)
		}
		if len(facade.results) != 0 {
			t.Error("facade must not be called")
		}
	})

	t.Run("unknown session is not retried", func(t *testing.T) {
		facade := &resultRecorder{err: errors.Join(service.ErrNotFound, errors.New("session not found"))}
		err := AnnouncementResultHandler(context.Background(), amqp.Delivery{Body: body}, ServiceDependencies{Facade: facade})
		if !isPermanent(err) {
			t.Errorf("expected permanent error, got %v", err)
		}
	})

	t.Run("store failure is retried", func(t *testing.T) {
		facade := &resultRecorder{err: errors.New("connection reset")}
		err := AnnouncementResultHandler(context.Background(), amqp.Delivery{Body: body}, ServiceDependencies{Facade: facade})
		if err == nil || isPermanent(err) {
			t.Errorf("expected retryable error, got %v", err)
		}
	})
}
