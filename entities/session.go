package entities

import (
	"github.com/google/uuid"
	"restream/constant"
	"time"
)

type Session struct {
	ID           uuid.UUID              `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	StreamId     uuid.UUID              `json:"stream_id" gorm:"type:uuid;not null;index:idx_sessions_stream_id"`
	UserId       uuid.UUID              `json:"user_id" gorm:"type:uuid;not null;index:idx_sessions_user_id"`
	SessionKey   string                 `json:"session_key" gorm:"type:varchar(64);not null;uniqueIndex:unique_session_key"`
	Status       constant.SessionStatus `json:"status" gorm:"type:varchar(20);not null;default:'active';index:idx_sessions_status"`
	Metadata     Metadata               `json:"metadata" gorm:"type:jsonb"`
	StartedAt    time.Time              `json:"started_at" gorm:"type:timestamptz;not null"`
	EndedAt      *time.Time             `json:"ended_at" gorm:"type:timestamptz"`
	ErrorMessage *string                `json:"error_message" gorm:"type:text"`
	CreatedAt    time.Time              `json:"created_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt    time.Time              `json:"updated_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`

	// Metrics
	PeakViewers       int     `json:"peak_viewers" gorm:"type:integer;not null;default:0"`
	TotalViewers      int     `json:"total_viewers" gorm:"type:integer;not null;default:0"`
	BytesSent         int64   `json:"bytes_sent" gorm:"type:bigint;not null;default:0"`
	BytesReceived     int64   `json:"bytes_received" gorm:"type:bigint;not null;default:0"`
	AverageBitrate    int     `json:"average_bitrate" gorm:"type:integer;not null;default:0"`
	DroppedFrames     int64   `json:"dropped_frames" gorm:"type:bigint;not null;default:0"`
	ConnectionQuality float64 `json:"connection_quality" gorm:"type:double precision;not null;default:1"`
	DurationSeconds   *int64  `json:"duration_seconds" gorm:"type:bigint"`

	// Announcement
	AnnouncedAt     *time.Time `json:"announced_at" gorm:"type:timestamptz"`
	AnnouncementIds StringList `json:"announcement_ids" gorm:"type:jsonb"`
}

func (Session) TableName() string {
	return "sessions"
}
