package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"net/http"
	"net/http/httptest"
	"net/url"
	"restream/constant"
	"restream/dto"
	"restream/entities"
	"restream/service"
	"strings"
	"testing"
)

// stubFacade overrides the facade calls a test needs; the rest panic
// through the nil embedded interface.
type stubFacade struct {
	service.Facade

	getStream          func(caller dto.Caller, id uuid.UUID) (*entities.Stream, error)
	createStream       func(caller dto.Caller, req dto.CreateStreamRequest) (*entities.Stream, error)
	endSession         func(caller dto.Caller, id uuid.UUID) (*entities.Session, error)
	enableRepublishing func(req dto.EnableRepublishingRequest) ([]dto.DestinationOutcome, error)
	resync             func() (*dto.PushResult, error)
	triggerMonitor     func() (bool, error)
	ingestStarted      func(streamKey string) (*entities.Session, error)
	ingestStopped      func(streamKey string) (*entities.Session, error)
	addPlatform        func(target dto.PlatformTarget) (*entities.RepublishingDestination, error)
}

func (f *stubFacade) GetStream(ctx context.Context, caller dto.Caller, id uuid.UUID) (*entities.Stream, error) {
	return f.getStream(caller, id)
}

func (f *stubFacade) CreateStream(ctx context.Context, caller dto.Caller, req dto.CreateStreamRequest) (*entities.Stream, error) {
	return f.createStream(caller, req)
}

func (f *stubFacade) EndSession(ctx context.Context, caller dto.Caller, id uuid.UUID, req dto.EndSessionRequest) (*entities.Session, error) {
	return f.endSession(caller, id)
}

func (f *stubFacade) EnableRepublishing(ctx context.Context, caller dto.Caller, streamId uuid.UUID, req dto.EnableRepublishingRequest) ([]dto.DestinationOutcome, error) {
	return f.enableRepublishing(req)
}

func (f *stubFacade) Resync(ctx context.Context, caller dto.Caller) (*dto.PushResult, error) {
	return f.resync()
}

func (f *stubFacade) TriggerMonitor(ctx context.Context, caller dto.Caller) (bool, error) {
	return f.triggerMonitor()
}

func (f *stubFacade) IngestStarted(ctx context.Context, streamKey string) (*entities.Session, error) {
	return f.ingestStarted(streamKey)
}

func (f *stubFacade) IngestStopped(ctx context.Context, streamKey string) (*entities.Session, error) {
	return f.ingestStopped(streamKey)
}

func (f *stubFacade) AddPlatformDestination(ctx context.Context, caller dto.Caller, streamId uuid.UUID, target dto.PlatformTarget) (*entities.RepublishingDestination, error) {
	return f.addPlatform(target)
}

func newTestRouter(f service.Facade) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, f)
	return r
}

func do(r http.Handler, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestAPI_errorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", errors.Join(service.ErrNotFound, errors.New("stream not found")), http.StatusNotFound},
		{"forbidden", service.ErrForbidden, http.StatusForbidden},
		{"validation", errors.Join(service.ErrValidation, errors.New("bad")), http.StatusBadRequest},
		{"external", errors.Join(service.ErrExternal, errors.New("disk full")), http.StatusBadGateway},
		{"unexpected", errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(&stubFacade{getStream: func(dto.Caller, uuid.UUID) (*entities.Stream, error) {
				return nil, tt.err
			}})
			rec := do(r, http.MethodGet, "/api/streams/"+uuid.NewString(), nil, nil)
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, rec.Code)
			}
			if tt.want == http.StatusInternalServerError && strings.Contains(rec.Body.String(), "connection reset") {
				t.Errorf("internal errors must not leak: %s", rec.Body.String())
			}
		})
	}
}

func TestAPI_sessionClosedIsConflict(t *testing.T) {
	r := newTestRouter(&stubFacade{endSession: func(dto.Caller, uuid.UUID) (*entities.Session, error) {
		return nil, service.ErrSessionClosed
	}})
	rec := do(r, http.MethodPost, "/api/sessions/"+uuid.NewString()+"/end", nil, nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", rec.Code)
	}
}

func TestAPI_invalidIds(t *testing.T) {
	r := newTestRouter(&stubFacade{})

	if rec := do(r, http.MethodGet, "/api/streams/not-a-uuid", nil, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad path id: expected 400, got %d", rec.Code)
	}
	rec := do(r, http.MethodGet, "/api/streams/"+uuid.NewString(), nil, map[string]string{"X-User-ID": "bob"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad caller header: expected 400, got %d", rec.Code)
	}
}

func TestAPI_callerHeaders(t *testing.T) {
	userId := uuid.New()
	var seen dto.Caller
	r := newTestRouter(&stubFacade{createStream: func(caller dto.Caller, req dto.CreateStreamRequest) (*entities.Stream, error) {
		seen = caller
		return &entities.Stream{ID: uuid.New(), UserId: caller.UserId, Title: req.Title}, nil
	}})

	rec := do(r, http.MethodPost, "/api/streams", map[string]string{"title": "demo"}, map[string]string{
		"X-User-ID":   userId.String(),
		"X-User-Role": "Admin",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if seen.UserId != userId || seen.Role != constant.RoleAdmin {
		t.Errorf("unexpected caller %+v", seen)
	}

	rec = do(r, http.MethodPost, "/api/streams", nil, map[string]string{"X-User-ID": userId.String()})
	if rec.Code != http.StatusCreated || seen.Role != constant.RoleUser {
		t.Errorf("expected user role without header, got %d %+v", rec.Code, seen)
	}
}

func TestAPI_invalidBody(t *testing.T) {
	r := newTestRouter(&stubFacade{})
	req := httptest.NewRequest(http.MethodPost, "/api/streams", strings.NewReader("not json"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestAPI_enableRepublishing_partialFailure(t *testing.T) {
	r := newTestRouter(&stubFacade{enableRepublishing: func(req dto.EnableRepublishingRequest) ([]dto.DestinationOutcome, error) {
		return []dto.DestinationOutcome{
			{Platform: "youtube", Success: true},
			{Platform: "twitch", Error: "destinationKey or destinationStream is required"},
		}, nil
	}})
	body := dto.EnableRepublishingRequest{Platforms: []dto.PlatformTarget{{Platform: "youtube", StreamKey: "k"}, {Platform: "twitch"}}}
	rec := do(r, http.MethodPost, "/api/streams/"+uuid.NewString()+"/republish", body, nil)
	if rec.Code != http.StatusMultiStatus {
		t.Errorf("expected 207, got %d", rec.Code)
	}
	var resp struct {
		Results []dto.DestinationOutcome `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil || len(resp.Results) != 2 {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestAPI_addPlatformDestination_takesPlatformFromPath(t *testing.T) {
	var got dto.PlatformTarget
	r := newTestRouter(&stubFacade{addPlatform: func(target dto.PlatformTarget) (*entities.RepublishingDestination, error) {
		got = target
		return &entities.RepublishingDestination{ID: uuid.New()}, nil
	}})
	rec := do(r, http.MethodPost, "/api/streams/"+uuid.NewString()+"/destinations/youtube", map[string]string{"streamKey": "abc", "platform": "twitch"}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	if got.Platform != "youtube" || got.StreamKey != "abc" {
		t.Errorf("unexpected target %+v", got)
	}
}

func TestAPI_resync_unwrittenReturnsResult(t *testing.T) {
	r := newTestRouter(&stubFacade{resync: func() (*dto.PushResult, error) {
		return &dto.PushResult{WriteError: "read-only file system"}, errors.Join(service.ErrExternal, errors.New("read-only file system"))
	}})
	rec := do(r, http.MethodPost, "/api/mediaserver/sync", nil, nil)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
	var result dto.PushResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil || result.WriteError == "" {
		t.Errorf("expected push result body, got %s", rec.Body.String())
	}
}

func TestAPI_triggerMonitor(t *testing.T) {
	accepted := true
	r := newTestRouter(&stubFacade{triggerMonitor: func() (bool, error) { return accepted, nil }})

	if rec := do(r, http.MethodPost, "/api/monitor/trigger", nil, nil); rec.Code != http.StatusAccepted {
		t.Errorf("expected 202, got %d", rec.Code)
	}
	accepted = false
	if rec := do(r, http.MethodPost, "/api/monitor/trigger", nil, nil); rec.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", rec.Code)
	}
}

func TestAPI_publishHook(t *testing.T) {
	var keys []string
	r := newTestRouter(&stubFacade{ingestStarted: func(streamKey string) (*entities.Session, error) {
		keys = append(keys, streamKey)
		if streamKey == "unknown" {
			return nil, errors.Join(service.ErrNotFound, errors.New("stream not found"))
		}
		return &entities.Session{ID: uuid.New()}, nil
	}})

	form := url.Values{"app": {"live"}, "name": {"sk_abc?token=1"}}
	req := httptest.NewRequest(http.MethodPost, "/hooks/publish", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("form hook: expected 200, got %d", rec.Code)
	}

	rec = do(r, http.MethodPost, "/hooks/publish", map[string]string{"app": "live", "name": "live/sk_def"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("json hook: expected 200, got %d", rec.Code)
	}
	if strings.Join(keys, ",") != "sk_abc,sk_def" {
		t.Errorf("unexpected stream keys %v", keys)
	}

	rec = do(r, http.MethodPost, "/hooks/publish", map[string]string{"name": "unknown"}, nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("unknown key: expected 403, got %d", rec.Code)
	}

	rec = do(r, http.MethodPost, "/hooks/publish", map[string]string{"app": "live"}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing name: expected 400, got %d", rec.Code)
	}
}

func TestAPI_unpublishHook_ignoresUnknownStreams(t *testing.T) {
	r := newTestRouter(&stubFacade{ingestStopped: func(streamKey string) (*entities.Session, error) {
		return nil, errors.Join(service.ErrNotFound, errors.New("active session not found"))
	}})
	rec := do(r, http.MethodPost, "/hooks/unpublish", map[string]string{"name": "sk_abc"}, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}
