package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/Capitan-Parrot/distributed-video-system/sentry/internal/alerting"
)

const DefaultPath = "config/local.yaml"

const defaultCooldown = 5 * time.Second

var ErrMissingCredential = errors.New("missing required credential")

// Config структура конфига
type Config struct {
	Stream struct {
		APIKey    string        `yaml:"api_key" env:"STREAM_API_KEY"`
		APISecret string        `yaml:"api_secret" env:"STREAM_API_SECRET"`
		BaseURL   string        `yaml:"base_url" env:"STREAM_BASE_URL"`
		Timeout   time.Duration `yaml:"timeout" env:"STREAM_TIMEOUT"`
	} `yaml:"stream"`

	Call struct {
		Type         string `yaml:"type" env:"CALL_TYPE"`
		ID           string `yaml:"id" env:"CALL_ID"`
		BotUserID    string `yaml:"bot_user_id" env:"BOT_USER_ID"`
		BotUserName  string `yaml:"bot_user_name" env:"BOT_USER_NAME"`
		AgentUserID  string `yaml:"agent_user_id" env:"AGENT_USER_ID"`
		FramesSource string `yaml:"frames_source" env:"FRAMES_SOURCE"`
	} `yaml:"call"`

	Detection struct {
		Endpoint   string        `yaml:"endpoint" env:"DETECTION_ENDPOINT"`
		Model      string        `yaml:"model" env:"YOLO_MODEL"`
		Confidence float64       `yaml:"confidence" env:"CONFIDENCE_THRESHOLD"`
		Timeout    time.Duration `yaml:"timeout" env:"DETECTION_TIMEOUT"`
	} `yaml:"detection"`

	Alerting struct {
		Cooldown           time.Duration `yaml:"cooldown" env:"ALERT_COOLDOWN"`
		SampleEvery        uint64        `yaml:"sample_every" env:"SAMPLE_EVERY"`
		Qualifier          string        `yaml:"qualifier" env:"ALERT_QUALIFIER"`
		PersonClasses      []string      `yaml:"person_classes" env:"PERSON_CLASSES" envSeparator:","`
		KeypointVisibility float64       `yaml:"keypoint_visibility" env:"KEYPOINT_VISIBILITY"`
		Payload            string        `yaml:"payload" env:"ALERT_PAYLOAD"`
		Message            string        `yaml:"message" env:"ALERT_MESSAGE"`
	} `yaml:"alerting"`

	LLM struct {
		Model  string `yaml:"model" env:"LLM_MODEL"`
		APIKey string `yaml:"api_key" env:"GEMINI_API_KEY"`
	} `yaml:"llm"`

	Postgres struct {
		DSN string `yaml:"dsn" env:"DATABASE_DSN"`
	} `yaml:"postgres"`

	Minio struct {
		Endpoint     string        `yaml:"endpoint" env:"MINIO_ENDPOINT"`
		AccessKey    string        `yaml:"access_key" env:"MINIO_ACCESS_KEY"`
		SecretKey    string        `yaml:"secret_key" env:"MINIO_SECRET_KEY"`
		FramesBucket string        `yaml:"frames_bucket" env:"MINIO_FRAMES_BUCKET"`
		AlertsBucket string        `yaml:"alerts_bucket" env:"MINIO_ALERTS_BUCKET"`
		PollInterval time.Duration `yaml:"poll_interval" env:"MINIO_POLL_INTERVAL"`
	} `yaml:"minio"`

	Kafka struct {
		Brokers        []string `yaml:"brokers" env:"KAFKA_BROKERS" envSeparator:","`
		GroupID        string   `yaml:"group_id" env:"KAFKA_GROUP_ID"`
		CommandTopic   string   `yaml:"command_topic" env:"KAFKA_COMMAND_TOPIC"`
		HeartbeatTopic string   `yaml:"heartbeat_topic" env:"KAFKA_HEARTBEAT_TOPIC"`
		AlertTopic     string   `yaml:"alert_topic" env:"KAFKA_ALERT_TOPIC"`
	} `yaml:"kafka"`

	HTTP struct {
		Addr string `yaml:"addr" env:"HTTP_ADDR"`
	} `yaml:"http"`

	Log struct {
		Level string `yaml:"level" env:"LOG_LEVEL"`
	} `yaml:"log"`
}

// LoadConfig reads the YAML file at path (if it exists), applies environment
// overrides and defaults, then validates the result.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	// Задаём до парсинга: явный 0 из YAML или окружения должен сохраниться
	cfg.Alerting.Cooldown = defaultCooldown

	if path == "" {
		path = DefaultPath
	}

	// Читаем YAML
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		// Парсим YAML в структуру
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
		// environment-only deployment
	default:
		return nil, err
	}

	// Парсим переменные окружения с приоритетом
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) setDefaults() {
	if c.Stream.BaseURL == "" {
		c.Stream.BaseURL = "https://video.stream-io-api.com"
	}
	if c.Stream.Timeout == 0 {
		c.Stream.Timeout = 10 * time.Second
	}
	if c.Call.Type == "" {
		c.Call.Type = "default"
	}
	if c.Call.ID == "" {
		c.Call.ID = "security-demo-1"
	}
	if c.Call.BotUserID == "" {
		c.Call.BotUserID = "security-bot"
	}
	if c.Call.BotUserName == "" {
		c.Call.BotUserName = "Security Bot"
	}
	if c.Call.AgentUserID == "" {
		c.Call.AgentUserID = "security_agent"
	}
	if c.Detection.Endpoint == "" {
		c.Detection.Endpoint = "http://localhost:8000"
	}
	if c.Detection.Model == "" {
		c.Detection.Model = "yolov8n.pt"
	}
	if c.Detection.Confidence == 0 {
		c.Detection.Confidence = 0.5
	}
	if c.Alerting.SampleEvery == 0 {
		c.Alerting.SampleEvery = 1
	}
	if c.Alerting.Qualifier == "" {
		c.Alerting.Qualifier = alerting.QualifierStrict
	}
	if len(c.Alerting.PersonClasses) == 0 {
		c.Alerting.PersonClasses = alerting.DefaultPersonClasses
	}
	if c.Alerting.KeypointVisibility == 0 {
		c.Alerting.KeypointVisibility = alerting.DefaultKeypointVisibility
	}
	if c.Alerting.Payload == "" {
		c.Alerting.Payload = alerting.PayloadEvent
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "gemini-1.5-flash"
	}
	if c.Minio.FramesBucket == "" {
		c.Minio.FramesBucket = "frames"
	}
	if c.Minio.AlertsBucket == "" {
		c.Minio.AlertsBucket = "alerts"
	}
	if c.Minio.PollInterval == 0 {
		c.Minio.PollInterval = time.Second
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "sentry-group"
	}
	if c.Kafka.CommandTopic == "" {
		c.Kafka.CommandTopic = "monitoring-sessions"
	}
	if c.Kafka.HeartbeatTopic == "" {
		c.Kafka.HeartbeatTopic = "monitoring-heartbeats"
	}
	if c.Kafka.AlertTopic == "" {
		c.Kafka.AlertTopic = "intrusion-alerts"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":9090"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate only checks presence of credentials and the enum-like settings.
func (c *Config) Validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"STREAM_API_KEY", c.Stream.APIKey},
		{"STREAM_API_SECRET", c.Stream.APISecret},
		{"GEMINI_API_KEY", c.LLM.APIKey},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%w: %s", ErrMissingCredential, r.name)
		}
	}

	if c.Alerting.Qualifier != alerting.QualifierStrict && c.Alerting.Qualifier != alerting.QualifierLoose {
		return fmt.Errorf("alerting.qualifier must be %q or %q", alerting.QualifierStrict, alerting.QualifierLoose)
	}
	if c.Alerting.Payload != alerting.PayloadEvent && c.Alerting.Payload != alerting.PayloadCustom {
		return fmt.Errorf("alerting.payload must be %q or %q", alerting.PayloadEvent, alerting.PayloadCustom)
	}
	if c.Alerting.Cooldown < 0 {
		return errors.New("alerting.cooldown must not be negative")
	}

	return nil
}

// KafkaEnabled reports whether brokers are configured.
func (c *Config) KafkaEnabled() bool {
	return len(c.Kafka.Brokers) > 0
}

// MinioEnabled reports whether object storage is configured.
func (c *Config) MinioEnabled() bool {
	return c.Minio.Endpoint != ""
}
