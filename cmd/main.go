package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/Capitan-Parrot/distributed-video-system/sentry/internal/alerting"
	"github.com/Capitan-Parrot/distributed-video-system/sentry/internal/api"
	"github.com/Capitan-Parrot/distributed-video-system/sentry/internal/config"
	"github.com/Capitan-Parrot/distributed-video-system/sentry/internal/database"
	"github.com/Capitan-Parrot/distributed-video-system/sentry/internal/kafka"
	"github.com/Capitan-Parrot/distributed-video-system/sentry/internal/metrics"
	"github.com/Capitan-Parrot/distributed-video-system/sentry/internal/models"
	"github.com/Capitan-Parrot/distributed-video-system/sentry/internal/notifier"
	"github.com/Capitan-Parrot/distributed-video-system/sentry/internal/runner"
	"github.com/Capitan-Parrot/distributed-video-system/sentry/internal/s3"
	"github.com/Capitan-Parrot/distributed-video-system/sentry/internal/services/detection"
	"github.com/Capitan-Parrot/distributed-video-system/sentry/internal/session"
	"github.com/Capitan-Parrot/distributed-video-system/sentry/internal/token"
	"github.com/Capitan-Parrot/distributed-video-system/sentry/internal/version"
)

func main() {
	configPath := flag.String("config", envOr("SENTRY_CONFIG", config.DefaultPath), "Path to YAML configuration")
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().
		Timestamp().
		Str("version", version.Version).
		Str("commit", version.Commit).
		Logger()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Str("config_path", *configPath).Msg("failed to load configuration")
	}

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	logger.Info().
		Str("call_type", cfg.Call.Type).
		Str("call_id", cfg.Call.ID).
		Dur("cooldown", cfg.Alerting.Cooldown).
		Uint64("sample_every", cfg.Alerting.SampleEvery).
		Str("qualifier", cfg.Alerting.Qualifier).
		Str("llm_model", cfg.LLM.Model).
		Msg("starting security agent")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	issuer, err := token.NewIssuer(cfg.Stream.APIKey, cfg.Stream.APISecret)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create token issuer")
	}

	payload, err := alerting.NewPayload(cfg.Alerting.Payload)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid alert payload")
	}

	qualifier, err := alerting.NewQualifier(cfg.Alerting.Qualifier, cfg.Detection.Confidence, cfg.Alerting.KeypointVisibility, cfg.Alerting.PersonClasses)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid alert qualifier")
	}

	m := metrics.New()

	deps := runner.Deps{
		Joiner: session.Joiner{
			Client:    session.NewClient(issuer, session.Options{BaseURL: cfg.Stream.BaseURL, Timeout: cfg.Stream.Timeout}, logger),
			CreatedBy: session.User{ID: cfg.Call.BotUserID, Name: cfg.Call.BotUserName, Role: "admin"},
			SenderID:  cfg.Call.AgentUserID,
			Payload:   payload,
		},
		Detector: detection.NewClient(cfg.Detection.Endpoint, detection.Options{
			Model:      cfg.Detection.Model,
			Confidence: cfg.Detection.Confidence,
			Timeout:    cfg.Detection.Timeout,
		}, logger),
		Metrics: m,
	}

	// Init Postgres
	if cfg.Postgres.DSN != "" {
		db, err := database.New(cfg.Postgres.DSN)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to Postgres")
		}
		defer db.Close()

		if err := db.Init(); err != nil {
			logger.Fatal().Err(err).Msg("failed to init database schema")
		}
		deps.Store = db
		deps.Alerts = db
	}

	// Init S3 client
	if cfg.MinioEnabled() {
		s3Client, err := s3.NewMinioClient(cfg.Minio.Endpoint, cfg.Minio.AccessKey, cfg.Minio.SecretKey, cfg.Minio.AlertsBucket)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to MinIO")
		}
		deps.Snapshots = s3Client
		deps.Frames = func(sessionID, videoSource string) (runner.FrameSource, error) {
			if videoSource == "" {
				videoSource = cfg.Minio.FramesBucket + "/" + sessionID
			}
			return s3.NewFrameSource(s3Client, sessionID, videoSource, cfg.Minio.PollInterval, logger)
		}
	}

	var consumer *kafka.Consumer
	if cfg.KafkaEnabled() {
		producer, err := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.HeartbeatTopic, cfg.Kafka.AlertTopic)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create Kafka producer")
		}
		defer producer.Close()
		deps.Heartbeats = producer
		deps.Sinks = []notifier.Notifier{producer}

		consumer, err = kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.CommandTopic, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create Kafka consumer")
		}
		defer consumer.Close()
	}

	r := runner.New(deps, runner.Settings{
		CallType: cfg.Call.Type,
		Policy: func(sessionID string) *alerting.Policy {
			return alerting.NewPolicy(sessionID, alerting.Options{
				Cooldown:    cfg.Alerting.Cooldown,
				SampleEvery: cfg.Alerting.SampleEvery,
				Qualifier:   qualifier,
				Message:     cfg.Alerting.Message,
			})
		},
	}, logger)

	if consumer != nil {
		consumer.StartListening(ctx)
		go r.ListenAndRun(ctx, consumer.Messages())
		go r.ProcessStopEvents(ctx)
	}

	// The configured call is monitored from startup
	if err := r.Start(ctx, models.SessionCommand{
		SessionID:   cfg.Call.ID,
		CallType:    cfg.Call.Type,
		Action:      models.CommandStart,
		VideoSource: cfg.Call.FramesSource,
	}); err != nil {
		logger.Fatal().Err(err).Str("call_id", cfg.Call.ID).Msg("failed to join call")
	}

	server := api.NewServer(r, m.Handler(), logger)
	go func() {
		if err := server.Start(cfg.HTTP.Addr); err != nil {
			logger.Error().Err(err).Msg("API server error")
		}
	}()

	fmt.Fprintf(os.Stderr, "security agent %s watching %s:%s\n", version.Full(), cfg.Call.Type, cfg.Call.ID)

	// Wait for shutdown signal
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Info().Msg("shutting down")
	cancel() // Stop goroutines
	r.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("API server shutdown error")
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
