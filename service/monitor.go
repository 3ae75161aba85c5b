package service

import (
	"context"
	"errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"restream/constant"
	"restream/dto"
	"restream/entities"
	"restream/pkg/metrics"
	"sync"
	"sync/atomic"
	"time"
)

// StatsSource returns the media server's stats document and the path that
// served it.
type StatsSource interface {
	FetchStats(ctx context.Context) (map[string]interface{}, string, error)
}

type MonitorOptions struct {
	Interval     time.Duration
	CycleTimeout time.Duration
	Concurrency  int
}

// CycleReport summarizes one reconciliation cycle.
type CycleReport struct {
	Endpoint string
	Shape    string
	Streams  int
	Failures int
	NoData   bool
	// Healed counts streams marked live by this cycle.
	Healed int
	Pushed bool
}

type Monitor interface {
	// Start runs a cycle right away, then one per interval until ctx is
	// done or Stop is called. A stopped monitor can be started again.
	Start(ctx context.Context)
	Stop()
	// Trigger requests an extra cycle. It returns false when one is
	// already pending or the monitor is not running.
	Trigger() bool
	RunCycle(ctx context.Context) CycleReport
	Status() dto.MonitorStatus
}

type monitor struct {
	source       StatsSource
	streams      StreamRegistry
	sessions     SessionTracker
	destinations DestinationDirectory
	synthesizer  Synthesizer
	metrics      *metrics.Metrics
	opts         MonitorOptions

	trigger chan struct{}
	running atomic.Bool

	// runMu guards stopCh and done, which belong to the current run.
	runMu  sync.Mutex
	stopCh chan struct{}
	done   chan struct{}

	mu     sync.Mutex
	cycles int64
	last   *CycleReport
	lastAt *time.Time
}

func NewMonitor(
	source StatsSource,
	streams StreamRegistry,
	sessions SessionTracker,
	destinations DestinationDirectory,
	synthesizer Synthesizer,
	m *metrics.Metrics,
	opts MonitorOptions,
) Monitor {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.CycleTimeout <= 0 {
		opts.CycleTimeout = 5 * time.Second
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &monitor{
		source:       source,
		streams:      streams,
		sessions:     sessions,
		destinations: destinations,
		synthesizer:  synthesizer,
		metrics:      m,
		opts:         opts,
		trigger:      make(chan struct{}, 1),
	}
}

func (m *monitor) Start(ctx context.Context) {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running.CompareAndSwap(false, true) {
		return
	}
	stopCh := make(chan struct{})
	done := make(chan struct{})
	m.stopCh, m.done = stopCh, done

	// drop a trigger left over from a previous run
	select {
	case <-m.trigger:
	default:
	}
	zerolog.Ctx(ctx).Info().Dur("interval", m.opts.Interval).Msg("health monitor started")

	go func() {
		defer close(done)
		defer m.running.Store(false)

		ticker := time.NewTicker(m.opts.Interval)
		defer ticker.Stop()

		m.RunCycle(ctx)
		for {
			select {
			case <-ticker.C:
				m.RunCycle(ctx)
			case <-m.trigger:
				zerolog.Ctx(ctx).Info().Msg("manual reconciliation triggered")
				m.RunCycle(ctx)
			case <-stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (m *monitor) Stop() {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.stopCh == nil {
		return
	}
	close(m.stopCh)
	<-m.done
	m.stopCh, m.done = nil, nil
}

func (m *monitor) Trigger() bool {
	if !m.running.Load() {
		return false
	}
	select {
	case m.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

func (m *monitor) RunCycle(ctx context.Context) CycleReport {
	report := m.runCycle(ctx)

	now := time.Now()
	m.mu.Lock()
	m.cycles++
	m.last = &report
	m.lastAt = &now
	m.mu.Unlock()

	m.metrics.ObserveCycle(!report.NoData, report.Streams)
	return report
}

func (m *monitor) runCycle(ctx context.Context) CycleReport {
	log := zerolog.Ctx(ctx)

	fetchCtx, cancel := context.WithTimeout(ctx, m.opts.CycleTimeout)
	doc, endpoint, err := m.source.FetchStats(fetchCtx)
	cancel()
	if err != nil {
		log.Warn().Err(err).Msg("no stats this cycle")
		return CycleReport{NoData: true}
	}

	records, shape := NormalizeStats(doc)
	report := CycleReport{Endpoint: endpoint, Shape: shape, Streams: len(records)}
	if len(records) == 0 {
		log.Debug().Str("endpoint", endpoint).Str("shape", shape).Msg("no applications reported")
		return report
	}

	live, err := m.streams.ListLive(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to list live streams, matching by stream key only")
	}

	var failures, healed atomic.Int64
	var g errgroup.Group
	g.SetLimit(m.opts.Concurrency)
	for _, record := range records {
		g.Go(func() error {
			markedLive, err := m.reconcile(ctx, record, live)
			if markedLive {
				healed.Add(1)
			}
			if err != nil {
				failures.Add(1)
				m.metrics.IncReconcileFailures()
				log.Error().Err(err).Str("app", record.App).Str("stream", record.Name).Msg("failed to reconcile stream")
			}
			return nil
		})
	}
	_ = g.Wait()

	report.Failures = int(failures.Load())
	report.Healed = int(healed.Load())
	if report.Healed > 0 && m.synthesizer != nil {
		report.Pushed = m.push(ctx)
	}
	log.Debug().
		Str("endpoint", endpoint).
		Str("shape", shape).
		Int("streams", report.Streams).
		Int("failures", report.Failures).
		Int("healed", report.Healed).
		Msg("reconciliation cycle finished")
	return report
}

// push republishes the configuration once the cycle marked streams live, so
// their destinations reach the media server.
func (m *monitor) push(ctx context.Context) bool {
	result, err := m.synthesizer.Push(ctx)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("configuration push after self-heal failed")
		return false
	}
	if !result.Written {
		zerolog.Ctx(ctx).Warn().Str("error", result.WriteError).Msg("configuration after self-heal not written")
		return false
	}
	return true
}

// resolve matches a record by stream key, then by (app, stream) against the
// live streams. It returns nil for streams this service does not know.
func (m *monitor) resolve(ctx context.Context, record StatsStream, live []*entities.Stream) (*entities.Stream, error) {
	stream, err := m.streams.FindByKey(ctx, record.Name)
	if err == nil {
		return stream, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	for _, candidate := range live {
		if candidate.SourceStream == record.Name && (record.App == "" || candidate.SourceApp == record.App) {
			return candidate, nil
		}
	}
	return nil, nil
}

// reconcile reports whether it moved the stream to live.
func (m *monitor) reconcile(ctx context.Context, record StatsStream, live []*entities.Stream) (markedLive bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.New("reconcile panicked")
			zerolog.Ctx(ctx).Error().Interface("panic", rec).Str("stream", record.Name).Msg("recovered from panic")
		}
	}()

	stream, err := m.resolve(ctx, record, live)
	if err != nil {
		return false, err
	}
	if stream == nil {
		zerolog.Ctx(ctx).Debug().Str("app", record.App).Str("stream", record.Name).Msg("unknown stream reported by media server")
		return false, nil
	}
	log := zerolog.Ctx(ctx).With().Str("stream_id", stream.ID.String()).Logger()

	if stream.Status != constant.StreamStatusLive {
		if _, err := m.streams.UpdateStatus(ctx, stream.ID, constant.StreamStatusLive, dto.StatusExtra{}); err != nil {
			return false, err
		}
		markedLive = true
		log.Info().Str("previous", string(stream.Status)).Msg("stream is broadcasting, marked live")
	}

	session, created, err := m.sessions.FindOrCreateActive(ctx, stream.ID, stream.UserId)
	if err != nil {
		return markedLive, err
	}
	if created {
		log.Info().Str("session_id", session.ID.String()).Msg("created missing session for broadcasting stream")
	}

	activity := ExtractActivity(record.Raw, stream.QualitySettings.Bitrate)
	if _, err := m.sessions.UpdateMetrics(ctx, session.ID, activity.Metrics); err != nil {
		return markedLive, err
	}

	// destination health is inferred from the stream's own viewer count
	status := constant.DestinationStatusInactive
	if activity.Viewers > 0 {
		status = constant.DestinationStatusActive
	}
	destinations, err := m.destinations.List(ctx, stream.ID)
	if err != nil {
		return markedLive, err
	}
	for _, destination := range destinations {
		if !destination.Enabled || destination.Status == status {
			continue
		}
		if _, err := m.destinations.UpdateStatus(ctx, destination.ID, status, dto.DestinationStatusExtra{}); err != nil {
			return markedLive, err
		}
	}
	return markedLive, nil
}

func (m *monitor) Status() dto.MonitorStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := dto.MonitorStatus{
		Running:     m.running.Load(),
		Interval:    m.opts.Interval.String(),
		Cycles:      m.cycles,
		LastCycleAt: m.lastAt,
	}
	if m.last != nil {
		status.LastEndpoint = m.last.Endpoint
		status.LastStreamsSeen = m.last.Streams
		status.LastFailures = m.last.Failures
		if m.last.NoData {
			status.LastError = "no stats available"
		}
	}
	return status
}
