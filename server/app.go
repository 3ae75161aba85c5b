package server

import (
	"context"
	"fmt"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"restream/config"
	"restream/constant"
	"restream/entities"
	"restream/pkg/mediaserver"
	"restream/pkg/metrics"
	"restream/pkg/rabbitmq"
	"restream/repository"
	"restream/service"
)

// App holds the wired components shared by the server and the CLI commands.
type App struct {
	Repo        repository.Repository
	Metrics     *metrics.Metrics
	Synthesizer service.Synthesizer
	Monitor     service.Monitor
	Facade      service.Facade
	Queue       *amqp.Connection
}

// NewApp connects the optional backends and wires the services. Redis,
// RabbitMQ and MinIO are skipped when not configured or unreachable.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	repo, err := repository.NewRepo(cfg.DB, cfg.App.Environment == constant.EnvironmentDevelop.String())
	if err != nil {
		return nil, err
	}

	cache := repository.NewNoopStreamKeyCache()
	if cfg.Redis != nil {
		client, err := config.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("redis unavailable, stream key cache disabled")
		} else {
			cache = repository.NewRedisStreamKeyCache(client)
		}
	}

	var archiver mediaserver.BackupArchiver
	if cfg.Storage != nil && cfg.MinIOBucket != "" {
		archiver = mediaserver.NewMinIOArchiver(cfg.Storage, cfg.MinIOBucket)
	}

	ms := cfg.MediaServer
	client := mediaserver.NewClient(mediaserver.Options{
		BaseURL:    ms.BaseURL,
		StatsPaths: ms.StatsPaths,
		ReloadPath: ms.ReloadPath,
		RulesPath:  ms.RulesPath,
		Timeout:    ms.Timeout,
	})
	reloads := mediaserver.NewReloadChain(ms.Timeout,
		mediaserver.NewSignalReloader(ms.PidFile, ms.ProcessName),
		mediaserver.NewServiceManagerReloader(ms.ServiceName, nil),
		mediaserver.NewHTTPReloader(client),
	)

	m := metrics.New()
	streams := service.NewStreamRegistry(repo, cache, service.IngestEndpoint{Host: ms.PublicHost, Port: ms.IngestPort})
	sessions := service.NewSessionTracker(repo)
	destinations := service.NewDestinationDirectory(repo)
	synthesizer := service.NewSynthesizer(streams, destinations,
		mediaserver.NewFileWriter(ms.ConfigPath, ms.BackupKeep, archiver),
		reloads, client, m,
		service.SynthesizerOptions{IngestPort: ms.IngestPort, RegisterTimeout: ms.Timeout},
	)
	monitor := service.NewMonitor(client, streams, sessions, destinations, synthesizer, m, service.MonitorOptions{
		Interval:     cfg.Monitor.Interval,
		CycleTimeout: cfg.Monitor.CycleTimeout,
		Concurrency:  cfg.Monitor.Concurrency,
	})

	app := &App{
		Repo:        repo,
		Metrics:     m,
		Synthesizer: synthesizer,
		Monitor:     monitor,
	}

	var publisher service.Publisher
	if cfg.Queue != nil {
		conn, err := config.NewRabbitMQConn(ctx, cfg.Queue)
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("rabbitmq unavailable, announcements are logged only")
		} else {
			app.Queue = conn
			p, err := rabbitmq.NewPublisher(ctx, conn, cfg.Queue.ExchangeName, cfg.Queue.Kind)
			if err != nil {
				return nil, err
			}
			publisher = p
		}
	}

	watchUrl := func(stream *entities.Stream) string {
		return fmt.Sprintf("%s://%s/watch/%s", cfg.App.Protocol, cfg.App.Host, stream.ID)
	}
	app.Facade = service.NewFacade(streams, sessions, destinations, synthesizer, monitor, service.NewAnnouncer(publisher, watchUrl))
	return app, nil
}
