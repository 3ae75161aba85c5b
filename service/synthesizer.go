package service

import (
	"context"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"restream/constant"
	"restream/dto"
	"restream/entities"
	"restream/pkg/mediaserver"
	"restream/pkg/metrics"
	"sort"
	"strconv"
	"sync"
	"time"
)

const (
	listenerDurationSeconds = 6
	listenerChunkCount      = 4
)

// RuleRegistrar registers a single republish rule on the media server.
type RuleRegistrar interface {
	RegisterRule(ctx context.Context, rule dto.RepublishRule) error
}

// ConfigReloader makes the media server pick up a written configuration.
type ConfigReloader interface {
	Reload(ctx context.Context) (string, bool)
}

type Synthesizer interface {
	Synthesize(ctx context.Context) (*dto.ConfigDocument, error)
	// Push writes a freshly synthesized document and reloads the media
	// server. Write and reload failures are reported in the result.
	Push(ctx context.Context) (*dto.PushResult, error)
	AddDestination(ctx context.Context, stream *entities.Stream, req dto.CreateDestinationRequest) (*entities.RepublishingDestination, error)
	Current(ctx context.Context) (*dto.ConfigDocument, error)
}

type SynthesizerOptions struct {
	IngestPort      int
	RegisterTimeout time.Duration
}

type synthesizer struct {
	streams      StreamRegistry
	destinations DestinationDirectory
	writer       mediaserver.ConfigWriter
	reloader     ConfigReloader
	registrar    RuleRegistrar
	metrics      *metrics.Metrics
	opts         SynthesizerOptions
	now          func() time.Time

	pushMu  sync.Mutex
	mu      sync.RWMutex
	current *dto.ConfigDocument
}

func NewSynthesizer(
	streams StreamRegistry,
	destinations DestinationDirectory,
	writer mediaserver.ConfigWriter,
	reloader ConfigReloader,
	registrar RuleRegistrar,
	m *metrics.Metrics,
	opts SynthesizerOptions,
) Synthesizer {
	if opts.IngestPort <= 0 {
		opts.IngestPort = constant.DefaultRTMPPort
	}
	if opts.RegisterTimeout <= 0 {
		opts.RegisterTimeout = 5 * time.Second
	}
	return &synthesizer{
		streams:      streams,
		destinations: destinations,
		writer:       writer,
		reloader:     reloader,
		registrar:    registrar,
		metrics:      m,
		opts:         opts,
		now:          time.Now,
	}
}

func ruleFor(destination *entities.RepublishingDestination) dto.RepublishRule {
	return dto.RepublishRule{
		Id:         destination.ID.String(),
		SrcApp:     destination.SourceApp,
		SrcStream:  destination.SourceStream,
		DestAddr:   destination.DestinationUrl,
		DestPort:   destination.DestinationPort,
		DestApp:    destination.DestinationApp,
		DestStream: destination.PublishName(),
	}
}

// liveRules returns the enabled destinations of every live stream, streams
// ordered by id and destinations in directory order.
func (s *synthesizer) liveRules(ctx context.Context) ([]*entities.Stream, map[uuid.UUID][]*entities.RepublishingDestination, error) {
	streams, err := s.streams.ListLive(ctx)
	if err != nil {
		return nil, nil, err
	}
	sort.SliceStable(streams, func(i, j int) bool {
		return streams[i].ID.String() < streams[j].ID.String()
	})

	byStream := make(map[uuid.UUID][]*entities.RepublishingDestination, len(streams))
	for _, stream := range streams {
		destinations, err := s.destinations.List(ctx, stream.ID)
		if err != nil {
			return nil, nil, err
		}
		byStream[stream.ID] = destinations
	}
	return streams, byStream, nil
}

func (s *synthesizer) Synthesize(ctx context.Context) (*dto.ConfigDocument, error) {
	streams, byStream, err := s.liveRules(ctx)
	if err != nil {
		return nil, err
	}
	return s.document(streams, byStream), nil
}

func (s *synthesizer) document(streams []*entities.Stream, byStream map[uuid.UUID][]*entities.RepublishingDestination) *dto.ConfigDocument {
	rules := make([]dto.RepublishRule, 0)
	for _, stream := range streams {
		if stream.Status != constant.StreamStatusLive {
			continue
		}
		for _, destination := range byStream[stream.ID] {
			if !destination.Enabled {
				continue
			}
			rules = append(rules, ruleFor(destination))
		}
	}

	hash := strconv.FormatInt(s.now().UnixMilli(), 10)
	return &dto.ConfigDocument{
		Listener: dto.ListenerConfig{
			Hash:            hash,
			Interfaces:      []dto.ListenerInterface{{Ip: "*", Port: s.opts.IngestPort, Ssl: false}},
			DurationSeconds: listenerDurationSeconds,
			ChunkCount:      listenerChunkCount,
		},
		RepublishRules: dto.RuleSet{
			Hash:  hash,
			Rules: rules,
		},
		RuleCount: len(rules),
	}
}

func (s *synthesizer) Push(ctx context.Context) (*dto.PushResult, error) {
	s.pushMu.Lock()
	defer s.pushMu.Unlock()

	streams, byStream, err := s.liveRules(ctx)
	if err != nil {
		return nil, err
	}
	doc := s.document(streams, byStream)
	result := &dto.PushResult{Document: doc}

	backup, err := s.writer.Write(ctx, doc)
	result.BackupPath = backup
	if err != nil {
		result.WriteError = err.Error()
		s.metrics.ObservePush(false, doc.RuleCount)
		zerolog.Ctx(ctx).Error().Err(err).Int("rules", doc.RuleCount).Msg("failed to write media server configuration")
		return result, nil
	}
	result.Written = true
	s.metrics.ObservePush(true, doc.RuleCount)

	s.mu.Lock()
	s.current = doc
	s.mu.Unlock()

	if s.reloader != nil {
		result.ReloadMethod, result.Reloaded = s.reloader.Reload(ctx)
	}
	s.metrics.ObserveReload(result.ReloadMethod)

	if result.Reloaded {
		s.markPushed(ctx, streams, byStream)
	}

	zerolog.Ctx(ctx).Info().
		Int("rules", doc.RuleCount).
		Bool("reloaded", result.Reloaded).
		Str("method", result.ReloadMethod).
		Str("backup", backup).
		Msg("media server configuration pushed")
	return result, nil
}

// markPushed brings destination status in line with what was just pushed:
// enabled destinations of live streams are active, disabled ones inactive.
func (s *synthesizer) markPushed(ctx context.Context, streams []*entities.Stream, byStream map[uuid.UUID][]*entities.RepublishingDestination) {
	for _, stream := range streams {
		for _, destination := range byStream[stream.ID] {
			status := constant.DestinationStatusInactive
			if destination.Enabled {
				status = constant.DestinationStatusActive
			}
			if destination.Status == status {
				continue
			}
			if _, err := s.destinations.UpdateStatus(ctx, destination.ID, status, dto.DestinationStatusExtra{}); err != nil {
				zerolog.Ctx(ctx).Warn().Err(err).Str("destination_id", destination.ID.String()).Msg("failed to update destination status after push")
			}
		}
	}
}

// AddDestination keeps the new destination even when the direct rule
// registration fails; the next push carries it.
func (s *synthesizer) AddDestination(ctx context.Context, stream *entities.Stream, req dto.CreateDestinationRequest) (*entities.RepublishingDestination, error) {
	destination, err := s.destinations.Create(ctx, stream, req)
	if err != nil {
		return nil, err
	}
	if s.registrar == nil || !destination.Enabled || stream.Status != constant.StreamStatusLive {
		return destination, nil
	}

	regCtx, cancel := context.WithTimeout(ctx, s.opts.RegisterTimeout)
	defer cancel()
	if err := s.registrar.RegisterRule(regCtx, ruleFor(destination)); err != nil {
		s.metrics.ObserveRuleRegistration(false)
		zerolog.Ctx(ctx).Warn().Err(err).
			Str("stream_id", stream.ID.String()).
			Str("destination_id", destination.ID.String()).
			Msg("direct rule registration failed, destination kept for next push")
		return destination, nil
	}
	s.metrics.ObserveRuleRegistration(true)
	zerolog.Ctx(ctx).Info().Str("destination_id", destination.ID.String()).Msg("rule registered on media server")
	return destination, nil
}

func (s *synthesizer) Current(ctx context.Context) (*dto.ConfigDocument, error) {
	s.mu.RLock()
	doc := s.current
	s.mu.RUnlock()
	if doc != nil {
		return doc, nil
	}
	return s.Synthesize(ctx)
}
