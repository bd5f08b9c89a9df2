package config

import (
	"database/sql"
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/spf13/viper"
)

type Config struct {
	MinIOBucket string        `yaml:"minio_bucket"`
	App         App           `yaml:"app"`
	DB          *sql.DB       `yaml:"db"`
	Queue       *RabbitMQ     `yaml:"rabbitmq"`
	Storage     *minio.Client `yaml:"storage"`
	Server      Server        `yaml:"server"`
	Reconcile   Reconcile     `yaml:"reconcile"`
	Primary     Primary       `yaml:"primary"`
	Bridge      Bridge        `yaml:"bridge"`
	Redis       Redis         `yaml:"redis"`
	Kafka       Kafka         `yaml:"kafka"`
	Webhooks    Webhooks      `yaml:"webhooks"`
}

type App struct {
	Environment string `yaml:"environment"`
	Host        string `yaml:"host"`
	Protocol    string `yaml:"protocol"`
}

type Server struct {
	HttpPort string `yaml:"http_port"`
	Workers  int    `yaml:"workers"`
	// QueueSize bounds the in-process webhook queue used without RabbitMQ.
	QueueSize int `yaml:"queue_size"`
}

type Reconcile struct {
	PollInterval    time.Duration `yaml:"poll_interval"`
	PollConcurrency int           `yaml:"poll_concurrency"`
	ProviderTimeout time.Duration `yaml:"provider_timeout"`
	RecordingGrace  time.Duration `yaml:"recording_grace"`
}

type Primary struct {
	BaseURL          string        `yaml:"base_url"`
	AccountID        string        `yaml:"account_id"`
	APIToken         string        `yaml:"api_token"`
	PlaybackBaseURL  string        `yaml:"playback_base_url"`
	RecordingTimeout time.Duration `yaml:"recording_timeout"`
}

type Bridge struct {
	BaseURL         string        `yaml:"base_url"`
	TokenID         string        `yaml:"token_id"`
	TokenSecret     string        `yaml:"token_secret"`
	IngestURL       string        `yaml:"ingest_url"`
	ReconnectWindow time.Duration `yaml:"reconnect_window"`
}

// Enabled reports whether bridge credentials are configured.
func (b Bridge) Enabled() bool {
	return b.BaseURL != "" && b.TokenID != ""
}

type Redis struct {
	Addrs      []string      `yaml:"addrs"`
	Username   string        `yaml:"username"`
	Password   string        `yaml:"password"`
	MasterName string        `yaml:"master_name"`
	LockTTL    time.Duration `yaml:"lock_ttl"`
}

type Kafka struct {
	Brokers  []string `yaml:"brokers"`
	Topic    string   `yaml:"topic"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
}

type Webhooks struct {
	IntakeToken   string `yaml:"intake_token"`
	PrimarySecret string `yaml:"primary_secret"`
	BridgeSecret  string `yaml:"bridge_secret"`
}

type RabbitMQ struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	User         string `json:"user"`
	Pass         string `json:"pass"`
	ExchangeName string `json:"exchange_name"`
	Kind         string `json:"kind"`
}

// Enabled reports whether a broker address is configured.
func (r *RabbitMQ) Enabled() bool {
	return r != nil && r.Host != ""
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "develop")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.workers", 4)
	v.SetDefault("server.queue_size", 1024)
	v.SetDefault("rabbitmq_kind", "direct")
	v.SetDefault("reconcile.poll_interval", 30*time.Second)
	v.SetDefault("reconcile.poll_concurrency", 8)
	v.SetDefault("reconcile.provider_timeout", 10*time.Second)
	v.SetDefault("reconcile.recording_grace", 10*time.Minute)
	v.SetDefault("primary.base_url", "https://api.cloudflare.com/client/v4")
	v.SetDefault("primary.recording_timeout", 60*time.Second)
	v.SetDefault("bridge.base_url", "https://api.mux.com")
	v.SetDefault("bridge.ingest_url", "rtmps://global-live.mux.com:443/app")
	v.SetDefault("bridge.reconnect_window", 60*time.Second)
	v.SetDefault("redis.lock_ttl", 45*time.Second)
	v.SetDefault("kafka.topic", "stream_session_transitions")
	v.SetDefault("minio.bucket", "recordings")
}

// Load reads config.yaml from path, with environment overrides such as
// PRIMARY_API_TOKEN for primary.api_token. A .env file in the working
// directory is loaded first when present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	err := v.ReadInConfig()
	if err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := fromViper(v)

	if dsn := v.GetString("postgresql_host"); dsn != "" {
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, err
		}
		cfg.DB = db
	}

	if endpoint := v.GetString("minio.url"); endpoint != "" {
		minioClient, err := minio.New(endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(v.GetString("minio.access_id"), v.GetString("minio.secret_access_key"), ""),
			Secure: v.GetBool("minio.secure"),
		})
		if err != nil {
			return nil, err
		}
		cfg.Storage = minioClient
	}

	return cfg, nil
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		MinIOBucket: v.GetString("minio.bucket"),
		App: App{
			Environment: v.GetString("app.environment"),
			Host:        v.GetString("app.host"),
			Protocol:    v.GetString("app.protocol"),
		},
		Server: Server{
			HttpPort:  v.GetString("server.port"),
			Workers:   v.GetInt("server.workers"),
			QueueSize: v.GetInt("server.queue_size"),
		},
		Queue: &RabbitMQ{
			Host:         v.GetString("rabbitmq_host"),
			Port:         v.GetInt("rabbitmq_port"),
			User:         v.GetString("rabbitmq_user"),
			Pass:         v.GetString("rabbitmq_pass"),
			ExchangeName: v.GetString("rabbitmq_exchange"),
			Kind:         v.GetString("rabbitmq_kind"),
		},
		Reconcile: Reconcile{
			PollInterval:    v.GetDuration("reconcile.poll_interval"),
			PollConcurrency: v.GetInt("reconcile.poll_concurrency"),
			ProviderTimeout: v.GetDuration("reconcile.provider_timeout"),
			RecordingGrace:  v.GetDuration("reconcile.recording_grace"),
		},
		Primary: Primary{
			BaseURL:          v.GetString("primary.base_url"),
			AccountID:        v.GetString("primary.account_id"),
			APIToken:         v.GetString("primary.api_token"),
			PlaybackBaseURL:  v.GetString("primary.playback_base_url"),
			RecordingTimeout: v.GetDuration("primary.recording_timeout"),
		},
		Bridge: Bridge{
			BaseURL:         v.GetString("bridge.base_url"),
			TokenID:         v.GetString("bridge.token_id"),
			TokenSecret:     v.GetString("bridge.token_secret"),
			IngestURL:       v.GetString("bridge.ingest_url"),
			ReconnectWindow: v.GetDuration("bridge.reconnect_window"),
		},
		Redis: Redis{
			Addrs:      v.GetStringSlice("redis.addrs"),
			Username:   v.GetString("redis.username"),
			Password:   v.GetString("redis.password"),
			MasterName: v.GetString("redis.master_name"),
			LockTTL:    v.GetDuration("redis.lock_ttl"),
		},
		Kafka: Kafka{
			Brokers:  v.GetStringSlice("kafka.brokers"),
			Topic:    v.GetString("kafka.topic"),
			Username: v.GetString("kafka.username"),
			Password: v.GetString("kafka.password"),
		},
		Webhooks: Webhooks{
			IntakeToken:   v.GetString("webhooks.intake_token"),
			PrimarySecret: v.GetString("webhooks.primary_secret"),
			BridgeSecret:  v.GetString("webhooks.bridge_secret"),
		},
	}
}
