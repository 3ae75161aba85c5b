package entities

import (
	"fmt"
	"github.com/google/uuid"
	"restream/constant"
	"time"
)

type Stream struct {
	ID               uuid.UUID             `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	UserId           uuid.UUID             `json:"user_id" gorm:"type:uuid;not null;index:idx_streams_user_id"`
	Title            string                `json:"title" gorm:"type:varchar(255)"`
	Description      string                `json:"description" gorm:"type:text"`
	StreamKey        string                `json:"stream_key" gorm:"type:varchar(128);not null;uniqueIndex:unique_stream_key"`
	SourceApp        string                `json:"source_app" gorm:"type:varchar(128);not null;default:'live'"`
	SourceStream     string                `json:"source_stream" gorm:"type:varchar(255);not null"`
	QualitySettings  QualitySettings       `json:"quality_settings" gorm:"type:jsonb"`
	Status           constant.StreamStatus `json:"status" gorm:"type:varchar(20);not null;default:'created';index:idx_streams_status"`
	AutoPostEnabled  bool                  `json:"auto_post_enabled" gorm:"not null;default:false"`
	AutoPostAccounts StringList            `json:"auto_post_accounts" gorm:"type:jsonb"`
	AutoPostMessage  string                `json:"auto_post_message" gorm:"type:text"`
	StartedAt        *time.Time            `json:"started_at" gorm:"type:timestamptz"`
	EndedAt          *time.Time            `json:"ended_at" gorm:"type:timestamptz"`
	CreatedAt        time.Time             `json:"created_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt        time.Time             `json:"updated_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
	IngestUrl        string                `json:"ingest_url,omitempty" gorm:"-"`

	Sessions     []*Session                 `json:"sessions,omitempty" gorm:"foreignKey:StreamId"`
	Destinations []*RepublishingDestination `json:"destinations,omitempty" gorm:"foreignKey:StreamId"`
}

func (Stream) TableName() string {
	return "streams"
}

// IngestURL is the address a broadcaster pushes to.
func (s *Stream) IngestURL(host string, port int) string {
	return fmt.Sprintf("rtmp://%s:%d/%s/%s", host, port, s.SourceApp, s.StreamKey)
}
