package dto

import (
	"github.com/google/uuid"
	"restream/constant"
	"restream/entities"
	"time"
)

type Caller struct {
	UserId uuid.UUID
	Role   constant.Role
}

type CreateStreamRequest struct {
	Title            string                    `json:"title"`
	Description      string                    `json:"description"`
	StreamKey        string                    `json:"streamKey"`
	SourceApp        string                    `json:"sourceApp"`
	SourceStream     string                    `json:"sourceStream"`
	QualitySettings  *entities.QualitySettings `json:"qualitySettings"`
	AutoPostEnabled  bool                      `json:"autoPostEnabled"`
	AutoPostAccounts []string                  `json:"autoPostAccounts"`
	AutoPostMessage  string                    `json:"autoPostMessage"`
}

// UpdateStreamRequest carries only the mutable stream fields; nil means unchanged.
type UpdateStreamRequest struct {
	Title            *string                   `json:"title"`
	Description      *string                   `json:"description"`
	SourceApp        *string                   `json:"sourceApp"`
	SourceStream     *string                   `json:"sourceStream"`
	QualitySettings  *entities.QualitySettings `json:"qualitySettings"`
	AutoPostEnabled  *bool                     `json:"autoPostEnabled"`
	AutoPostAccounts *[]string                 `json:"autoPostAccounts"`
	AutoPostMessage  *string                   `json:"autoPostMessage"`
}

type StatusExtra struct {
	StartedAt *time.Time
	EndedAt   *time.Time
}

type StreamStats struct {
	SessionCount            int64   `json:"sessionCount"`
	TotalDurationSeconds    int64   `json:"totalDurationSeconds"`
	PeakViewers             int     `json:"peakViewers"`
	TotalViewers            int64   `json:"totalViewers"`
	AverageQuality          float64 `json:"averageConnectionQuality"`
	DestinationCount        int64   `json:"destinationCount"`
	EnabledDestinationCount int64   `json:"enabledDestinationCount"`
}

type StreamSummary struct {
	*entities.Stream
	Stats StreamStats `json:"stats"`
}

// SessionMetrics is a partial metrics update; nil fields are left untouched.
type SessionMetrics struct {
	PeakViewers       *int     `json:"peakViewers"`
	TotalViewers      *int     `json:"totalViewers"`
	BytesSent         *int64   `json:"bytesSent"`
	BytesReceived     *int64   `json:"bytesReceived"`
	AverageBitrate    *int     `json:"averageBitrate"`
	DroppedFrames     *int64   `json:"droppedFrames"`
	ConnectionQuality *float64 `json:"connectionQuality"`
	DurationSeconds   *int64   `json:"durationSeconds"`
}

func (m SessionMetrics) Empty() bool {
	return m.PeakViewers == nil && m.TotalViewers == nil && m.BytesSent == nil && m.BytesReceived == nil &&
		m.AverageBitrate == nil && m.DroppedFrames == nil && m.ConnectionQuality == nil && m.DurationSeconds == nil
}

type StartSessionRequest struct {
	Metadata map[string]string `json:"metadata"`
}

// EndSessionRequest may carry final metrics; DurationSeconds overrides the
// computed endedAt - startedAt.
type EndSessionRequest struct {
	EndedAt      *time.Time `json:"endedAt"`
	ErrorMessage *string    `json:"errorMessage"`
	SessionMetrics
}

type CreateDestinationRequest struct {
	DestinationName   string `json:"destinationName"`
	DestinationUrl    string `json:"destinationUrl"`
	DestinationPort   int    `json:"destinationPort"`
	DestinationApp    string `json:"destinationApp"`
	DestinationStream string `json:"destinationStream"`
	DestinationKey    string `json:"destinationKey"`
	Enabled           *bool  `json:"enabled"`
	Priority          int    `json:"priority"`
	RetryAttempts     *int   `json:"retryAttempts"`
}

// UpdateDestinationRequest carries the mutable destination fields; nil means unchanged.
type UpdateDestinationRequest struct {
	DestinationName *string `json:"destinationName"`
	DestinationKey  *string `json:"destinationKey"`
	Enabled         *bool   `json:"enabled"`
	Priority        *int    `json:"priority"`
}

type DestinationStatusExtra struct {
	LastError *string
	At        *time.Time
}

type EnableRepublishingRequest struct {
	Platforms []PlatformTarget `json:"platforms"`
}

type PlatformTarget struct {
	Platform  string `json:"platform"`
	StreamKey string `json:"streamKey"`
	Url       string `json:"url"`
	Port      int    `json:"port"`
	App       string `json:"app"`
}

type DestinationOutcome struct {
	Platform    string                            `json:"platform"`
	Success     bool                              `json:"success"`
	Destination *entities.RepublishingDestination `json:"destination,omitempty"`
	Error       string                            `json:"error,omitempty"`
}

type AnnouncementRequest struct {
	AnnouncementId uuid.UUID `json:"announcementId"`
	SessionId      uuid.UUID `json:"sessionId"`
	StreamId       uuid.UUID `json:"streamId"`
	UserId         uuid.UUID `json:"userId"`
	Accounts       []string  `json:"accounts"`
	Message        string    `json:"message"`
	WatchUrl       string    `json:"watchUrl"`
}

type AnnouncementResult struct {
	AnnouncementId uuid.UUID `json:"announcementId"`
	SessionId      uuid.UUID `json:"sessionId"`
	PostIds        []string  `json:"postIds"`
}

type MonitorStatus struct {
	Running         bool       `json:"running"`
	Interval        string     `json:"interval"`
	Cycles          int64      `json:"cycles"`
	LastCycleAt     *time.Time `json:"lastCycleAt"`
	LastEndpoint    string     `json:"lastEndpoint"`
	LastStreamsSeen int        `json:"lastStreamsSeen"`
	LastFailures    int        `json:"lastFailures"`
	LastError       string     `json:"lastError,omitempty"`
}
