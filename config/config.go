package config

import (
	"database/sql"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/spf13/viper"
	"strings"
	"time"
)

type Config struct {
	MinIOBucket string        `yaml:"minio_bucket"`
	App         App           `yaml:"app"`
	DB          *sql.DB       `yaml:"db"`
	Queue       *RabbitMQ     `yaml:"rabbitmq"`
	Redis       *Redis        `yaml:"redis"`
	Storage     *minio.Client `yaml:"storage"`
	Server      Server        `yaml:"server"`
	MediaServer MediaServer   `yaml:"mediaserver"`
	Monitor     Monitor       `yaml:"monitor"`
}

type App struct {
	Environment string `yaml:"environment"`
	Host        string `yaml:"host"`
	Protocol    string `yaml:"protocol"`
}

type Server struct {
	HttpPort string `yaml:"http_port"`
	Workers  int    `yaml:"workers"`
}

type RabbitMQ struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	User         string `json:"user"`
	Pass         string `json:"pass"`
	ExchangeName string `json:"exchange_name"`
	Kind         string `json:"kind"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// MediaServer describes how to reach and control the external media server.
type MediaServer struct {
	BaseURL     string        `yaml:"base_url"`
	ConfigPath  string        `yaml:"config_path"`
	PidFile     string        `yaml:"pid_file"`
	ServiceName string        `yaml:"service_name"`
	ReloadPath  string        `yaml:"reload_path"`
	RulesPath   string        `yaml:"rules_path"`
	StatsPaths  []string      `yaml:"stats_paths"`
	Timeout     time.Duration `yaml:"timeout"`
	IngestPort  int           `yaml:"ingest_port"`
	PublicHost  string        `yaml:"public_host"`
	ProcessName string        `yaml:"process_name"`
	BackupKeep  int           `yaml:"backup_keep"`
}

type Monitor struct {
	Enabled      bool          `yaml:"enabled"`
	Interval     time.Duration `yaml:"interval"`
	CycleTimeout time.Duration `yaml:"cycle_timeout"`
	Concurrency  int           `yaml:"concurrency"`
}

func setDefaults() {
	viper.SetDefault("app.environment", "develop")
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.workers", 2)
	viper.SetDefault("rabbitmq_kind", "topic")
	viper.SetDefault("rabbitmq_port", 5672)
	viper.SetDefault("rabbitmq_exchange", "stream_announcements")
	viper.SetDefault("mediaserver.base_url", "http://127.0.0.1:8081")
	viper.SetDefault("mediaserver.config_path", "/etc/mediaserver/republish.json")
	viper.SetDefault("mediaserver.pid_file", "/var/run/mediaserver.pid")
	viper.SetDefault("mediaserver.service_name", "mediaserver")
	viper.SetDefault("mediaserver.reload_path", "/api/reload")
	viper.SetDefault("mediaserver.rules_path", "/api/republish")
	viper.SetDefault("mediaserver.stats_paths", []string{"/stats", "/stats.json", "/status", "/info"})
	viper.SetDefault("mediaserver.timeout", 5*time.Second)
	viper.SetDefault("mediaserver.ingest_port", 1935)
	viper.SetDefault("mediaserver.public_host", "localhost")
	viper.SetDefault("mediaserver.process_name", "mediaserver")
	viper.SetDefault("mediaserver.backup_keep", 10)
	viper.SetDefault("monitor.enabled", true)
	viper.SetDefault("monitor.interval", 30*time.Second)
	viper.SetDefault("monitor.cycle_timeout", 10*time.Second)
	viper.SetDefault("monitor.concurrency", 4)
}

func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	setDefaults()
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	err := viper.ReadInConfig()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", viper.GetString("postgresql_host"))
	if err != nil {
		return nil, err
	}

	rabbitmq := &RabbitMQ{
		Host:         viper.GetString("rabbitmq_host"),
		Port:         viper.GetInt("rabbitmq_port"),
		User:         viper.GetString("rabbitmq_user"),
		Pass:         viper.GetString("rabbitmq_pass"),
		ExchangeName: viper.GetString("rabbitmq_exchange"),
		Kind:         viper.GetString("rabbitmq_kind"),
	}
	if rabbitmq.Host == "" {
		rabbitmq = nil
	}

	var redis *Redis
	if addr := viper.GetString("redis.addr"); addr != "" {
		redis = &Redis{
			Addr:     addr,
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		}
	}

	var minioClient *minio.Client
	if url := viper.GetString("minio.url"); url != "" {
		minioClient, err = minio.New(url, &minio.Options{
			Creds:  credentials.NewStaticV4(viper.GetString("minio.access_id"), viper.GetString("minio.secret_access_key"), ""),
			Secure: false,
		})
		if err != nil {
			return nil, err
		}
	}

	return &Config{
		MinIOBucket: viper.GetString("minio.bucket"),
		App: App{
			Environment: viper.GetString("app.environment"),
			Host:        viper.GetString("app.host"),
			Protocol:    viper.GetString("app.protocol"),
		},
		Server: Server{
			HttpPort: viper.GetString("server.port"),
			Workers:  viper.GetInt("server.workers"),
		},
		MediaServer: MediaServer{
			BaseURL:     viper.GetString("mediaserver.base_url"),
			ConfigPath:  viper.GetString("mediaserver.config_path"),
			PidFile:     viper.GetString("mediaserver.pid_file"),
			ServiceName: viper.GetString("mediaserver.service_name"),
			ReloadPath:  viper.GetString("mediaserver.reload_path"),
			RulesPath:   viper.GetString("mediaserver.rules_path"),
			StatsPaths:  viper.GetStringSlice("mediaserver.stats_paths"),
			Timeout:     viper.GetDuration("mediaserver.timeout"),
			IngestPort:  viper.GetInt("mediaserver.ingest_port"),
			PublicHost:  viper.GetString("mediaserver.public_host"),
			ProcessName: viper.GetString("mediaserver.process_name"),
			BackupKeep:  viper.GetInt("mediaserver.backup_keep"),
		},
		Monitor: Monitor{
			Enabled:      viper.GetBool("monitor.enabled"),
			Interval:     viper.GetDuration("monitor.interval"),
			CycleTimeout: viper.GetDuration("monitor.cycle_timeout"),
			Concurrency:  viper.GetInt("monitor.concurrency"),
		},
		DB:      db,
		Queue:   rabbitmq,
		Redis:   redis,
		Storage: minioClient,
	}, nil
}
