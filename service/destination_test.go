package service

import (
	"errors"
	"github.com/google/uuid"
	"restream/constant"
	"restream/dto"
	"restream/entities"
	"testing"
)

func TestLookupPlatform(t *testing.T) {
	tests := []struct {
		platform string
		want     PlatformPreset
	}{
		{"youtube", PlatformPreset{Url: "a.rtmp.youtube.com", Port: 1935, App: "live2"}},
		{"Twitch", PlatformPreset{Url: "live.twitch.tv", Port: 1935, App: "live"}},
		{"facebook", PlatformPreset{Url: "live-api-s.facebook.com", Port: 443, App: "rtmp"}},
		{" x ", PlatformPreset{Url: "ingest.pscp.tv", Port: 80, App: "x"}},
		{"twitter", PlatformPreset{Url: "ingest.pscp.tv", Port: 80, App: "x"}},
		{"linkedin", PlatformPreset{Url: "live-api.linkedin.com", Port: 1935, App: "live"}},
	}
	for _, tt := range tests {
		got, ok := LookupPlatform(tt.platform)
		if !ok || got != tt.want {
			t.Errorf("LookupPlatform(%q) = %+v, %v; want %+v", tt.platform, got, ok, tt.want)
		}
	}
	if _, ok := LookupPlatform("myspace"); ok {
		t.Error("unknown platform should not resolve")
	}
}

func TestPlatformDestination_customPlatformKeepsEndpoint(t *testing.T) {
	req := PlatformDestination(dto.PlatformTarget{Platform: "Custom", StreamKey: "k", Url: "rtmp.example.com", Port: 1936, App: "in"})
	if req.DestinationUrl != "rtmp.example.com" || req.DestinationPort != 1936 || req.DestinationApp != "in" {
		t.Errorf("custom endpoint not kept: %+v", req)
	}
	if req.DestinationName != "custom" || req.DestinationKey != "k" {
		t.Errorf("unexpected name or key: %+v", req)
	}
}

func newTestStream() *entities.Stream {
	return &entities.Stream{
		ID:           uuid.New(),
		UserId:       uuid.New(),
		StreamKey:    "sk_test",
		SourceApp:    "live",
		SourceStream: "sk_test",
		Status:       constant.StreamStatusCreated,
	}
}

func TestDestinationDirectory_Create(t *testing.T) {
	directory := NewDestinationDirectory(newMemRepo())
	stream := newTestStream()

	destination, err := directory.Create(testContext(), stream, dto.CreateDestinationRequest{
		DestinationUrl:    "rtmp://ingest.example.com",
		DestinationStream: "mirror",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if destination.DestinationUrl != "ingest.example.com" || destination.DestinationPort != 1935 || destination.DestinationApp != "live" {
		t.Errorf("defaults not applied: %+v", destination)
	}
	if !destination.Enabled || destination.RetryAttempts != 3 || destination.Status != constant.DestinationStatusInactive {
		t.Errorf("unexpected defaults: %+v", destination)
	}
	if destination.SourceApp != "live" || destination.SourceStream != "sk_test" || destination.UserId != stream.UserId {
		t.Errorf("source not copied from stream: %+v", destination)
	}
	if destination.PublishName() != "mirror" {
		t.Errorf("expected publish name from stream field, got %q", destination.PublishName())
	}
}

func TestDestinationDirectory_Create_parsesUrl(t *testing.T) {
	directory := NewDestinationDirectory(newMemRepo())

	tests := []struct {
		name string
		req  dto.CreateDestinationRequest
		host string
		port int
		app  string
	}{
		{
			name: "full url",
			req:  dto.CreateDestinationRequest{DestinationUrl: "rtmp://fa723fc1b171.global-contribute.live-video.net:443/app", DestinationKey: "k"},
			host: "fa723fc1b171.global-contribute.live-video.net", port: 443, app: "app",
		},
		{
			name: "host and port without scheme",
			req:  dto.CreateDestinationRequest{DestinationUrl: "ingest.example.com:1936/in", DestinationKey: "k"},
			host: "ingest.example.com", port: 1936, app: "in",
		},
		{
			name: "bare host keeps explicit fields",
			req:  dto.CreateDestinationRequest{DestinationUrl: "ingest.example.com", DestinationPort: 80, DestinationApp: "x", DestinationKey: "k"},
			host: "ingest.example.com", port: 80, app: "x",
		},
		{
			name: "matching explicit fields",
			req:  dto.CreateDestinationRequest{DestinationUrl: "rtmp://ingest.example.com:1935/live2/", DestinationPort: 1935, DestinationApp: "live2", DestinationKey: "k"},
			host: "ingest.example.com", port: 1935, app: "live2",
		},
		{
			name: "rtmps defaults to 443",
			req:  dto.CreateDestinationRequest{DestinationUrl: "rtmps://live-api-s.facebook.com/rtmp", DestinationKey: "k"},
			host: "live-api-s.facebook.com", port: 443, app: "rtmp",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			destination, err := directory.Create(testContext(), newTestStream(), tt.req)
			if err != nil {
				t.Fatalf("Create: %v", err)
			}
			if destination.DestinationUrl != tt.host || destination.DestinationPort != tt.port || destination.DestinationApp != tt.app {
				t.Errorf("got %s:%d/%s, want %s:%d/%s",
					destination.DestinationUrl, destination.DestinationPort, destination.DestinationApp,
					tt.host, tt.port, tt.app)
			}
		})
	}
}

func TestDestinationDirectory_Create_validation(t *testing.T) {
	directory := NewDestinationDirectory(newMemRepo())
	stream := newTestStream()

	tests := []struct {
		name string
		req  dto.CreateDestinationRequest
	}{
		{"missing url", dto.CreateDestinationRequest{DestinationKey: "k"}},
		{"missing key and stream", dto.CreateDestinationRequest{DestinationUrl: "a.example.com"}},
		{"port out of range", dto.CreateDestinationRequest{DestinationUrl: "a.example.com", DestinationKey: "k", DestinationPort: 70000}},
		{"url port out of range", dto.CreateDestinationRequest{DestinationUrl: "rtmp://a.example.com:70000/app", DestinationKey: "k"}},
		{"url port conflicts", dto.CreateDestinationRequest{DestinationUrl: "rtmp://a.example.com:443/app", DestinationKey: "k", DestinationPort: 1935}},
		{"url app conflicts", dto.CreateDestinationRequest{DestinationUrl: "rtmp://a.example.com/app", DestinationKey: "k", DestinationApp: "live"}},
		{"unsupported scheme", dto.CreateDestinationRequest{DestinationUrl: "http://a.example.com/app", DestinationKey: "k"}},
		{"query string", dto.CreateDestinationRequest{DestinationUrl: "rtmp://a.example.com/app?token=1", DestinationKey: "k"}},
		{"no host", dto.CreateDestinationRequest{DestinationUrl: "rtmp:///app", DestinationKey: "k"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := directory.Create(testContext(), stream, tt.req); !errors.Is(err, ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestDestinationDirectory_UpdateStatus(t *testing.T) {
	repo := newMemRepo()
	directory := NewDestinationDirectory(repo)
	ctx := testContext()
	destination, _ := directory.Create(ctx, newTestStream(), dto.CreateDestinationRequest{DestinationUrl: "a.example.com", DestinationKey: "k"})

	active, err := directory.UpdateStatus(ctx, destination.ID, constant.DestinationStatusActive, dto.DestinationStatusExtra{})
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if active.ConnectionCount != 1 || active.LastConnectedAt == nil {
		t.Errorf("expected connection bookkeeping, got %+v", active)
	}

	before := repo.updateCount()
	again, _ := directory.UpdateStatus(ctx, destination.ID, constant.DestinationStatusActive, dto.DestinationStatusExtra{})
	if again.ConnectionCount != 1 || repo.updateCount() != before {
		t.Error("repeating the same status must not write")
	}

	failed, _ := directory.UpdateStatus(ctx, destination.ID, constant.DestinationStatusError, dto.DestinationStatusExtra{LastError: stringPtr("connection refused")})
	if failed.Status != constant.DestinationStatusError || failed.LastError == nil || *failed.LastError != "connection refused" {
		t.Errorf("expected error status with message, got %+v", failed)
	}

	if _, err := directory.UpdateStatus(ctx, destination.ID, constant.DestinationStatus("bogus"), dto.DestinationStatusExtra{}); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for unknown status, got %v", err)
	}
	if _, err := directory.UpdateStatus(ctx, uuid.New(), constant.DestinationStatusActive, dto.DestinationStatusExtra{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDestinationDirectory_ListOrdersByPriority(t *testing.T) {
	directory := NewDestinationDirectory(newMemRepo())
	ctx := testContext()
	stream := newTestStream()

	low, _ := directory.Create(ctx, stream, dto.CreateDestinationRequest{DestinationUrl: "b.example.com", DestinationKey: "b", Priority: 5})
	high, _ := directory.Create(ctx, stream, dto.CreateDestinationRequest{DestinationUrl: "a.example.com", DestinationKey: "a", Priority: 1})

	list, err := directory.List(ctx, stream.ID)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].ID != high.ID || list[1].ID != low.ID {
		t.Errorf("expected priority order, got %v", list)
	}
}

func TestDestinationDirectory_BulkSetStatusAndDelete(t *testing.T) {
	directory := NewDestinationDirectory(newMemRepo())
	ctx := testContext()
	stream := newTestStream()
	first, _ := directory.Create(ctx, stream, dto.CreateDestinationRequest{DestinationUrl: "a.example.com", DestinationKey: "a"})
	_, _ = directory.Create(ctx, stream, dto.CreateDestinationRequest{DestinationUrl: "b.example.com", DestinationKey: "b"})

	changed, err := directory.BulkSetStatus(ctx, stream.ID, constant.DestinationStatusActive)
	if err != nil || changed != 2 {
		t.Fatalf("BulkSetStatus active: changed=%d err=%v", changed, err)
	}
	got, _ := directory.Get(ctx, first.ID)
	if got.ConnectionCount != 1 {
		t.Errorf("expected connection count 1, got %d", got.ConnectionCount)
	}

	if _, err := directory.BulkSetStatus(ctx, stream.ID, constant.DestinationStatusInactive); err != nil {
		t.Fatalf("BulkSetStatus inactive: %v", err)
	}
	got, _ = directory.Get(ctx, first.ID)
	if got.Status != constant.DestinationStatusInactive {
		t.Errorf("expected inactive, got %s", got.Status)
	}

	if err := directory.Delete(ctx, first.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := directory.Delete(ctx, first.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestDestinationDirectory_Update(t *testing.T) {
	directory := NewDestinationDirectory(newMemRepo())
	ctx := testContext()
	destination, _ := directory.Create(ctx, newTestStream(), dto.CreateDestinationRequest{DestinationUrl: "a.example.com", DestinationKey: "k"})

	updated, err := directory.Update(ctx, destination.ID, dto.UpdateDestinationRequest{DestinationKey: stringPtr("k2"), Priority: intPtr(3)})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.PublishName() != "k2" || updated.Priority != 3 {
		t.Errorf("unexpected update %+v", updated)
	}

	if _, err := directory.Update(ctx, destination.ID, dto.UpdateDestinationRequest{DestinationKey: stringPtr("")}); !errors.Is(err, ErrValidation) {
		t.Errorf("clearing the only publish name should fail, got %v", err)
	}
}
