package repository

import (
	"context"
	"github.com/google/uuid"
	"restream/constant"
	"restream/entities"
)

type DestinationRepository interface {
	CreateDestination(ctx context.Context, destination *entities.RepublishingDestination) error
	FindDestinationById(ctx context.Context, id uuid.UUID) (*entities.RepublishingDestination, error)
	ListDestinationsByStream(ctx context.Context, streamId uuid.UUID) ([]*entities.RepublishingDestination, error)
	UpdateDestination(ctx context.Context, destination *entities.RepublishingDestination, columns ...string) error
	SetDestinationsStatus(ctx context.Context, streamId uuid.UUID, status constant.DestinationStatus) (int64, error)
	DeleteDestination(ctx context.Context, id uuid.UUID) error
}

func (r *repo) CreateDestination(ctx context.Context, destination *entities.RepublishingDestination) error {
	if destination.ID == uuid.Nil {
		destination.ID = uuid.New()
	}
	return r.GetDB(ctx).Create(destination).Error
}

func (r *repo) FindDestinationById(ctx context.Context, id uuid.UUID) (*entities.RepublishingDestination, error) {
	destination := &entities.RepublishingDestination{}
	err := r.GetDB(ctx).First(destination, "id = ?", id).Error
	if err != nil {
		return nil, translate(err)
	}
	return destination, nil
}

func (r *repo) ListDestinationsByStream(ctx context.Context, streamId uuid.UUID) ([]*entities.RepublishingDestination, error) {
	var destinations []*entities.RepublishingDestination
	err := r.GetDB(ctx).
		Where("stream_id = ?", streamId).
		Order("priority ASC").
		Order("created_at ASC").
		Order("id ASC").
		Find(&destinations).Error
	if err != nil {
		return nil, err
	}
	return destinations, nil
}

func (r *repo) UpdateDestination(ctx context.Context, destination *entities.RepublishingDestination, columns ...string) error {
	return updateColumns(r.GetDB(ctx), destination, columns)
}

func (r *repo) SetDestinationsStatus(ctx context.Context, streamId uuid.UUID, status constant.DestinationStatus) (int64, error) {
	res := r.GetDB(ctx).Model(&entities.RepublishingDestination{}).
		Where("stream_id = ?", streamId).
		Update("status", status)
	return res.RowsAffected, res.Error
}

func (r *repo) DeleteDestination(ctx context.Context, id uuid.UUID) error {
	res := r.GetDB(ctx).Where("id = ?", id).Delete(&entities.RepublishingDestination{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
