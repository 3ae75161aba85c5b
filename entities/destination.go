package entities

import (
	"github.com/google/uuid"
	"restream/constant"
	"time"
)

// RepublishingDestination is one outbound fan-out target. Source fields are
// copied from the stream at creation time.
type RepublishingDestination struct {
	ID                uuid.UUID                  `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	StreamId          uuid.UUID                  `json:"stream_id" gorm:"type:uuid;not null;index:idx_destinations_stream_id"`
	UserId            uuid.UUID                  `json:"user_id" gorm:"type:uuid;not null"`
	SourceApp         string                     `json:"source_app" gorm:"type:varchar(128);not null"`
	SourceStream      string                     `json:"source_stream" gorm:"type:varchar(255);not null"`
	DestinationName   string                     `json:"destination_name" gorm:"type:varchar(128);not null"`
	DestinationUrl    string                     `json:"destination_url" gorm:"type:varchar(500);not null"`
	DestinationPort   int                        `json:"destination_port" gorm:"type:integer;not null;default:1935"`
	DestinationApp    string                     `json:"destination_app" gorm:"type:varchar(128);not null;default:'live'"`
	DestinationStream string                     `json:"destination_stream" gorm:"type:varchar(255)"`
	DestinationKey    string                     `json:"-" gorm:"type:varchar(500)"`
	Enabled           bool                       `json:"enabled" gorm:"not null"`
	Priority          int                        `json:"priority" gorm:"type:integer;not null;default:0"`
	RetryAttempts     int                        `json:"retry_attempts" gorm:"type:integer;not null"`
	Status            constant.DestinationStatus `json:"status" gorm:"type:varchar(20);not null;default:'inactive'"`
	LastConnectedAt   *time.Time                 `json:"last_connected_at" gorm:"type:timestamptz"`
	LastError         *string                    `json:"last_error" gorm:"type:text"`
	ConnectionCount   int                        `json:"connection_count" gorm:"type:integer;not null;default:0"`
	CreatedAt         time.Time                  `json:"created_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt         time.Time                  `json:"updated_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
}

func (RepublishingDestination) TableName() string {
	return "republishing_destinations"
}

// PublishName is the stream name sent to the platform: the key when one is
// set, otherwise DestinationStream.
func (d *RepublishingDestination) PublishName() string {
	if d.DestinationKey != "" {
		return d.DestinationKey
	}
	return d.DestinationStream
}
