package constant

type StreamStatus string

const (
	StreamStatusCreated StreamStatus = "created"
	StreamStatusLive    StreamStatus = "live"
	StreamStatusEnded   StreamStatus = "ended"
)

func (s StreamStatus) Valid() bool {
	switch s {
	case StreamStatusCreated, StreamStatusLive, StreamStatusEnded:
		return true
	}
	return false
}

type SessionStatus string

const (
	SessionStatusActive SessionStatus = "active"
	SessionStatusEnded  SessionStatus = "ended"
	SessionStatusError  SessionStatus = "error"
)

type DestinationStatus string

const (
	DestinationStatusInactive DestinationStatus = "inactive"
	DestinationStatusActive   DestinationStatus = "active"
	DestinationStatusError    DestinationStatus = "error"
)

func (s DestinationStatus) Valid() bool {
	switch s {
	case DestinationStatusInactive, DestinationStatusActive, DestinationStatusError:
		return true
	}
	return false
}

type Platform string

const (
	PlatformYouTube  Platform = "youtube"
	PlatformTwitch   Platform = "twitch"
	PlatformFacebook Platform = "facebook"
	PlatformTwitter  Platform = "twitter"
	PlatformX        Platform = "x"
	PlatformLinkedIn Platform = "linkedin"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

const (
	DefaultRTMPPort = 1935
	DefaultRTMPApp  = "live"
)

type Environment string

const (
	EnvironmentProduction Environment = "production"
	EnvironmentStaging    Environment = "staging"
	EnvironmentDevelop    Environment = "develop"
)

func (e Environment) String() string {
	return string(e)
}
