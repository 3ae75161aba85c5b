package service

import (
	"context"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"net/url"
	"restream/constant"
	"restream/dto"
	"restream/entities"
	"restream/repository"
	"strconv"
	"strings"
	"time"
)

type PlatformPreset struct {
	Url  string
	Port int
	App  string
}

var platformPresets = map[constant.Platform]PlatformPreset{
	constant.PlatformYouTube:  {Url: "a.rtmp.youtube.com", Port: 1935, App: "live2"},
	constant.PlatformTwitch:   {Url: "live.twitch.tv", Port: 1935, App: "live"},
	constant.PlatformFacebook: {Url: "live-api-s.facebook.com", Port: 443, App: "rtmp"},
	constant.PlatformTwitter:  {Url: "ingest.pscp.tv", Port: 80, App: "x"},
	constant.PlatformX:        {Url: "ingest.pscp.tv", Port: 80, App: "x"},
	constant.PlatformLinkedIn: {Url: "live-api.linkedin.com", Port: 1935, App: "live"},
}

// LookupPlatform returns the well-known ingest endpoint for a platform.
func LookupPlatform(platform string) (PlatformPreset, bool) {
	preset, ok := platformPresets[constant.Platform(strings.ToLower(strings.TrimSpace(platform)))]
	return preset, ok
}

// PlatformDestination builds a create request for platform. Unknown platforms
// keep the caller's url, port and app, defaulting to 1935 and "live".
func PlatformDestination(target dto.PlatformTarget) dto.CreateDestinationRequest {
	name := strings.ToLower(strings.TrimSpace(target.Platform))
	req := dto.CreateDestinationRequest{
		DestinationName: name,
		DestinationUrl:  target.Url,
		DestinationPort: target.Port,
		DestinationApp:  target.App,
		DestinationKey:  target.StreamKey,
	}
	if preset, ok := LookupPlatform(name); ok {
		req.DestinationUrl = preset.Url
		req.DestinationPort = preset.Port
		req.DestinationApp = preset.App
	}
	return req
}

// parseDestinationUrl splits a destination address into host, port and app.
// It accepts a bare host or a full rtmp(s)://host[:port][/app] url. A port or
// app carried by the url must agree with the explicit ones when both are set.
func parseDestinationUrl(raw string, port int, app string) (string, int, string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", 0, "", invalid("destinationUrl is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "rtmp://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", 0, "", invalid("destinationUrl is not a valid url")
	}
	switch strings.ToLower(u.Scheme) {
	case "rtmp", "rtmps":
	default:
		return "", 0, "", invalid("destinationUrl scheme must be rtmp or rtmps")
	}
	if u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return "", 0, "", invalid("destinationUrl must not carry credentials, a query or a fragment")
	}
	host := u.Hostname()
	if host == "" {
		return "", 0, "", invalid("destinationUrl has no host")
	}

	if p := u.Port(); p != "" {
		urlPort, err := strconv.Atoi(p)
		if err != nil || urlPort <= 0 || urlPort > 65535 {
			return "", 0, "", invalid("destinationUrl port is out of range")
		}
		if port != 0 && port != urlPort {
			return "", 0, "", invalid("destinationPort does not match the port in destinationUrl")
		}
		port = urlPort
	}
	if port == 0 && strings.EqualFold(u.Scheme, "rtmps") {
		port = 443
	}
	if path := strings.Trim(u.Path, "/"); path != "" {
		if app != "" && app != path {
			return "", 0, "", invalid("destinationApp does not match the app in destinationUrl")
		}
		app = path
	}
	return host, port, app, nil
}

type DestinationDirectory interface {
	Create(ctx context.Context, stream *entities.Stream, req dto.CreateDestinationRequest) (*entities.RepublishingDestination, error)
	// List orders by priority then creation time.
	List(ctx context.Context, streamId uuid.UUID) ([]*entities.RepublishingDestination, error)
	Get(ctx context.Context, id uuid.UUID) (*entities.RepublishingDestination, error)
	Update(ctx context.Context, id uuid.UUID, req dto.UpdateDestinationRequest) (*entities.RepublishingDestination, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status constant.DestinationStatus, extra dto.DestinationStatusExtra) (*entities.RepublishingDestination, error)
	BulkSetStatus(ctx context.Context, streamId uuid.UUID, status constant.DestinationStatus) (int64, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type destinationDirectory struct {
	repo repository.Repository
	now  func() time.Time
}

func NewDestinationDirectory(repo repository.Repository) DestinationDirectory {
	return &destinationDirectory{
		repo: repo,
		now:  time.Now,
	}
}

func (d *destinationDirectory) Create(ctx context.Context, stream *entities.Stream, req dto.CreateDestinationRequest) (*entities.RepublishingDestination, error) {
	if stream == nil {
		return nil, invalid("stream is required")
	}
	if req.DestinationPort < 0 || req.DestinationPort > 65535 {
		return nil, invalid("destinationPort is out of range")
	}
	host, port, app, err := parseDestinationUrl(req.DestinationUrl, req.DestinationPort, strings.TrimSpace(req.DestinationApp))
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.DestinationKey) == "" && strings.TrimSpace(req.DestinationStream) == "" {
		return nil, invalid("destinationKey or destinationStream is required")
	}

	if port == 0 {
		port = constant.DefaultRTMPPort
	}
	if app == "" {
		app = constant.DefaultRTMPApp
	}
	name := strings.TrimSpace(req.DestinationName)
	if name == "" {
		name = host
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	retryAttempts := 3
	if req.RetryAttempts != nil {
		retryAttempts = *req.RetryAttempts
	}

	now := d.now()
	destination := &entities.RepublishingDestination{
		ID:                uuid.New(),
		StreamId:          stream.ID,
		UserId:            stream.UserId,
		SourceApp:         stream.SourceApp,
		SourceStream:      stream.SourceStream,
		DestinationName:   name,
		DestinationUrl:    host,
		DestinationPort:   port,
		DestinationApp:    app,
		DestinationStream: strings.TrimSpace(req.DestinationStream),
		DestinationKey:    strings.TrimSpace(req.DestinationKey),
		Enabled:           enabled,
		Priority:          req.Priority,
		RetryAttempts:     retryAttempts,
		Status:            constant.DestinationStatusInactive,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := d.repo.CreateDestination(ctx, destination); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("stream_id", stream.ID.String()).Msg("failed to create destination")
		return nil, err
	}

	zerolog.Ctx(ctx).Info().
		Str("stream_id", stream.ID.String()).
		Str("destination_id", destination.ID.String()).
		Str("destination", name).
		Msg("destination created")
	return destination, nil
}

func (d *destinationDirectory) List(ctx context.Context, streamId uuid.UUID) ([]*entities.RepublishingDestination, error) {
	return d.repo.ListDestinationsByStream(ctx, streamId)
}

func (d *destinationDirectory) Get(ctx context.Context, id uuid.UUID) (*entities.RepublishingDestination, error) {
	destination, err := d.repo.FindDestinationById(ctx, id)
	if err != nil {
		return nil, notFound(err, "destination")
	}
	return destination, nil
}

func (d *destinationDirectory) UpdateStatus(ctx context.Context, id uuid.UUID, status constant.DestinationStatus, extra dto.DestinationStatusExtra) (*entities.RepublishingDestination, error) {
	if !status.Valid() {
		return nil, invalid("unknown destination status " + string(status))
	}
	destination, err := d.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := d.applyStatus(ctx, destination, status, extra); err != nil {
		return nil, err
	}
	return destination, nil
}

func (d *destinationDirectory) Update(ctx context.Context, id uuid.UUID, req dto.UpdateDestinationRequest) (*entities.RepublishingDestination, error) {
	destination, err := d.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	var columns []string
	if req.DestinationName != nil {
		destination.DestinationName = strings.TrimSpace(*req.DestinationName)
		columns = append(columns, "destination_name")
	}
	if req.DestinationKey != nil {
		destination.DestinationKey = strings.TrimSpace(*req.DestinationKey)
		columns = append(columns, "destination_key")
	}
	if req.Enabled != nil {
		destination.Enabled = *req.Enabled
		columns = append(columns, "enabled")
	}
	if req.Priority != nil {
		destination.Priority = *req.Priority
		columns = append(columns, "priority")
	}
	if destination.PublishName() == "" {
		return nil, invalid("destinationKey or destinationStream is required")
	}
	if len(columns) == 0 {
		return destination, nil
	}

	destination.UpdatedAt = d.now()
	columns = append(columns, "updated_at")
	if err := d.repo.UpdateDestination(ctx, destination, columns...); err != nil {
		return nil, err
	}
	return destination, nil
}

// applyStatus is a no-op when nothing changes, so repeated polling does not
// rewrite rows.
func (d *destinationDirectory) applyStatus(ctx context.Context, destination *entities.RepublishingDestination, status constant.DestinationStatus, extra dto.DestinationStatusExtra) error {
	at := d.now()
	if extra.At != nil {
		at = *extra.At
	}

	var columns []string
	switch status {
	case constant.DestinationStatusActive:
		if destination.Status != constant.DestinationStatusActive {
			destination.LastConnectedAt = &at
			destination.ConnectionCount++
			columns = append(columns, "last_connected_at", "connection_count")
		}
	case constant.DestinationStatusError:
		if extra.LastError != nil {
			destination.LastError = extra.LastError
			columns = append(columns, "last_error")
		}
	}
	if destination.Status != status {
		destination.Status = status
		columns = append(columns, "status")
	}
	if len(columns) == 0 {
		return nil
	}

	destination.UpdatedAt = d.now()
	columns = append(columns, "updated_at")
	if err := d.repo.UpdateDestination(ctx, destination, columns...); err != nil {
		return err
	}
	zerolog.Ctx(ctx).Debug().
		Str("destination_id", destination.ID.String()).
		Str("status", string(status)).
		Msg("destination status updated")
	return nil
}

func (d *destinationDirectory) BulkSetStatus(ctx context.Context, streamId uuid.UUID, status constant.DestinationStatus) (int64, error) {
	if !status.Valid() {
		return 0, invalid("unknown destination status " + string(status))
	}
	if status == constant.DestinationStatusActive {
		// keep connection bookkeeping right for each row
		destinations, err := d.List(ctx, streamId)
		if err != nil {
			return 0, err
		}
		var changed int64
		for _, destination := range destinations {
			if destination.Status == status {
				continue
			}
			if err := d.applyStatus(ctx, destination, status, dto.DestinationStatusExtra{}); err != nil {
				return changed, err
			}
			changed++
		}
		return changed, nil
	}
	return d.repo.SetDestinationsStatus(ctx, streamId, status)
}

func (d *destinationDirectory) Delete(ctx context.Context, id uuid.UUID) error {
	if err := d.repo.DeleteDestination(ctx, id); err != nil {
		return notFound(err, "destination")
	}
	zerolog.Ctx(ctx).Info().Str("destination_id", id.String()).Msg("destination deleted")
	return nil
}
