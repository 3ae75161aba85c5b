package server

import (
	"context"
	"errors"
	"fmt"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"restream/config"
	"restream/constant"
	"restream/handler"
	"restream/pkg/rabbitmq"
	"syscall"
	"time"
)

var announcementResults = rabbitmq.Binding{
	Exchange:   "stream_announcements",
	Queue:      "stream_announcement_results",
	RoutingKey: "stream.announcement.result",
}

func RunHttp(cfg *config.Config) {
	ctx, cancel := signal.NotifyContext(SetupLogger(cfg), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Bool("isProduction", cfg.App.Environment == constant.EnvironmentProduction.String()).Send()
	if cfg.App.Environment == constant.EnvironmentProduction.String() {
		gin.SetMode(gin.ReleaseMode)
	}

	app, err := NewApp(ctx, cfg)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to initialise services")
		return
	}

	if app.Queue != nil {
		binding := announcementResults
		if cfg.Queue.ExchangeName != "" {
			binding.Exchange = cfg.Queue.ExchangeName
		}
		resultConsumer := rabbitmq.NewConsumer(app.Queue, cfg.Queue, binding, cfg.Server.Workers, handler.AnnouncementResultHandler)
		go func() {
			err := resultConsumer.Consume(ctx, handler.ServiceDependencies{Facade: app.Facade})
			if err != nil && !errors.Is(err, context.Canceled) {
				zerolog.Ctx(ctx).Error().Err(err).Msg("announcement result consumer error")
			}
		}()
	}

	if cfg.Monitor.Enabled {
		app.Monitor.Start(ctx)
		defer app.Monitor.Stop()
	}

	r := gin.Default()
	addHealth(r)
	r.GET("/metrics", gin.WrapH(app.Metrics.Handler()))
	RegisterRoutes(r, app.Facade)

	srv := http.Server{
		Handler:           r,
		Addr:              fmt.Sprintf(":%s", cfg.Server.HttpPort),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Str("addr", srv.Addr).Msg("start http server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zerolog.Ctx(ctx).Error().Str("env", cfg.App.Environment).Msg(err.Error())
		}
	}()

	<-ctx.Done()
	zerolog.Ctx(ctx).Info().Msg("shutting down server")
	shutdownCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zerolog.Ctx(ctx).Error().Str("env", cfg.App.Environment).Msg(err.Error())
	}

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Msg("server shutdown")
}

func addHealth(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
		})
	})
}

func SetupLogger(cfg *config.Config) context.Context {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.App.Environment == constant.EnvironmentDevelop.String() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	// Log to standard output
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	ctx := logger.WithContext(context.Background())

	return ctx
}
