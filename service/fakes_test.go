package service

import (
	"context"
	"errors"
	"github.com/google/uuid"
	"restream/constant"
	"restream/dto"
	"restream/entities"
	"sync"
	"testing"
)

type fakeWriter struct {
	mu     sync.Mutex
	err    error
	writes []*dto.ConfigDocument
}

func (w *fakeWriter) Write(ctx context.Context, doc *dto.ConfigDocument) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return "", w.err
	}
	w.writes = append(w.writes, doc)
	return "/tmp/mediaserver.json.bak", nil
}

func (w *fakeWriter) last() *dto.ConfigDocument {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.writes) == 0 {
		return nil
	}
	return w.writes[len(w.writes)-1]
}

type fakeReloader struct {
	mu    sync.Mutex
	ok    bool
	calls int
}

func (r *fakeReloader) Reload(ctx context.Context) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if !r.ok {
		return "", false
	}
	return "signal", true
}

type fakeRegistrar struct {
	mu    sync.Mutex
	err   error
	rules []dto.RepublishRule
}

func (r *fakeRegistrar) RegisterRule(ctx context.Context, rule dto.RepublishRule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.rules = append(r.rules, rule)
	return nil
}

type fakeStats struct {
	doc map[string]interface{}
	err error
}

func (s *fakeStats) FetchStats(ctx context.Context) (map[string]interface{}, string, error) {
	if s.err != nil {
		return nil, "", s.err
	}
	return s.doc, "/api/stats", nil
}

type fakePublisher struct {
	mu       sync.Mutex
	err      error
	messages []dto.AnnouncementRequest
}

func (p *fakePublisher) Publish(ctx context.Context, routingKey string, v interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	if req, ok := v.(dto.AnnouncementRequest); ok {
		p.messages = append(p.messages, req)
	}
	return nil
}

type harness struct {
	repo         *memRepo
	writer       *fakeWriter
	reloader     *fakeReloader
	registrar    *fakeRegistrar
	stats        *fakeStats
	publisher    *fakePublisher
	streams      StreamRegistry
	sessions     SessionTracker
	destinations DestinationDirectory
	synthesizer  Synthesizer
	monitor      Monitor
	facade       Facade
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		repo:      newMemRepo(),
		writer:    &fakeWriter{},
		reloader:  &fakeReloader{ok: true},
		registrar: &fakeRegistrar{},
		stats:     &fakeStats{},
		publisher: &fakePublisher{},
	}
	h.streams = NewStreamRegistry(h.repo, nil, IngestEndpoint{Host: "ingest.example.com"})
	h.sessions = NewSessionTracker(h.repo)
	h.destinations = NewDestinationDirectory(h.repo)
	h.synthesizer = NewSynthesizer(h.streams, h.destinations, h.writer, h.reloader, h.registrar, nil, SynthesizerOptions{})
	h.monitor = NewMonitor(h.stats, h.streams, h.sessions, h.destinations, h.synthesizer, nil, MonitorOptions{})
	h.facade = NewFacade(h.streams, h.sessions, h.destinations, h.synthesizer, h.monitor, NewAnnouncer(h.publisher, nil))
	return h
}

func owner() dto.Caller {
	return dto.Caller{UserId: uuid.New(), Role: constant.RoleUser}
}

func (h *harness) createStream(t *testing.T, caller dto.Caller, req dto.CreateStreamRequest) *entities.Stream {
	t.Helper()
	stream, err := h.facade.CreateStream(testContext(), caller, req)
	if err != nil {
		t.Fatalf("CreateStream: %v", err)
	}
	return stream
}

func (h *harness) addYouTube(t *testing.T, caller dto.Caller, streamId uuid.UUID, key string) *entities.RepublishingDestination {
	t.Helper()
	destination, err := h.facade.AddPlatformDestination(testContext(), caller, streamId, dto.PlatformTarget{Platform: "youtube", StreamKey: key})
	if err != nil {
		t.Fatalf("AddPlatformDestination: %v", err)
	}
	return destination
}

func boolPtr(v bool) *bool       { return &v }
func intPtr(v int) *int          { return &v }
func int64Ptr(v int64) *int64    { return &v }
func stringPtr(v string) *string { return &v }

var errBoom = errors.New("boom")
