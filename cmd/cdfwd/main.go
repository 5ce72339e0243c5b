package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/fraser-isbester/cdfwd/internal/adapter"
	"github.com/fraser-isbester/cdfwd/internal/adapter/github"
	"github.com/fraser-isbester/cdfwd/internal/adapter/jira"
	"github.com/fraser-isbester/cdfwd/internal/adapter/kubernetes"
	"github.com/fraser-isbester/cdfwd/internal/archive"
	"github.com/fraser-isbester/cdfwd/internal/config"
	"github.com/fraser-isbester/cdfwd/internal/ingest"
	"github.com/fraser-isbester/cdfwd/internal/logger"
	"github.com/fraser-isbester/cdfwd/internal/processor"
	"github.com/fraser-isbester/cdfwd/internal/receiver"
	"github.com/fraser-isbester/cdfwd/internal/source"
	"github.com/fraser-isbester/cdfwd/internal/telemetry"
	"github.com/fraser-isbester/cdfwd/internal/validation"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "cdfwd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.NewConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := logger.Initialize(cfg.Log); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.CloseGlobal()
	log := logger.GetLogger("main")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tel, err := telemetry.Setup(ctx, cfg.Tracing, version)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	log.Info().Str("version", version).Bool("tracing", tel.Enabled()).Msg("starting cdfwd")

	registry := adapter.NewRegistry(
		github.New(),
		jira.New(jira.WithStatusBuckets(jira.StatusBuckets{
			Queued:     cfg.Jira.Statuses.Queued,
			InProgress: cfg.Jira.Statuses.InProgress,
			Completed:  cfg.Jira.Statuses.Completed,
		})),
		kubernetes.New(kubernetes.WithCluster(cfg.Kubernetes.Cluster)),
	)

	publishers, err := startPublishers(ctx, cfg, log)
	if err != nil {
		return err
	}

	service, err := newService(ctx, cfg, registry, publishers, log)
	if err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	recvOpts := []receiver.Option{receiver.WithVersion(version)}
	if tel.Enabled() {
		recvOpts = append(recvOpts, receiver.WithTracing(cfg.Tracing.ServiceName))
	}
	recv := receiver.New(cfg.Server, service, recvOpts...)
	if err := recv.Start(ctx); err != nil {
		closeService(service, log)
		return fmt.Errorf("start receiver: %w", err)
	}

	var sources []source.Source
	if cfg.Kubernetes.Enabled {
		jobs, err := startJobSource(ctx, cfg.Kubernetes, service)
		if err != nil {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			if err := recv.Stop(stopCtx); err != nil {
				log.Error().Err(err).Msg("error stopping receiver")
			}
			stopCancel()
			closeService(service, log)
			return err
		}
		sources = append(sources, jobs)
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down")

	// Shutdown in reverse order
	for _, src := range sources {
		if err := src.Stop(); err != nil {
			log.Error().Err(err).Str("source", src.Name()).Msg("error stopping source")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := recv.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error stopping receiver")
	}
	closeService(service, log)
	if err := tel.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error shutting down telemetry")
	}
	return nil
}

// newService assembles the ingest service. The publishers are closed when
// any other side channel fails to initialize.
func newService(ctx context.Context, cfg *config.AppConfig, registry *adapter.Registry, publishers []processor.Publisher, log zerolog.Logger) (*ingest.Service, error) {
	opts := []ingest.Option{ingest.WithSideEffectTimeout(cfg.Ingest.SideEffectTimeout)}

	if cfg.Archive.Enabled {
		store, err := archive.NewMinIOStore(ctx, cfg.Archive)
		if err != nil {
			closePublishers(publishers, log)
			return nil, fmt.Errorf("init archive: %w", err)
		}
		opts = append(opts, ingest.WithArchiver(archive.NewLogger(store)))
		log.Info().Str("bucket", cfg.Archive.Bucket).Msg("archiving webhooks")
	}

	if cfg.Validation.Enabled {
		opts = append(opts, ingest.WithValidator(
			validation.NewClient(cfg.Validation.BaseURL, cfg.Validation.Timeout),
			cfg.Validation.Timeout,
		))
	}

	if len(publishers) > 0 {
		opts = append(opts, ingest.WithPublisher(processor.Multi(publishers...)))
	}
	return ingest.NewService(registry, opts...), nil
}

func startJobSource(ctx context.Context, cfg config.KubernetesConfig, service *ingest.Service) (*source.JobSource, error) {
	client, err := source.NewKubeClient(cfg.Kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("create kubernetes client: %w", err)
	}
	jobs := source.NewJobSource(client, service, cfg)
	if err := jobs.Start(ctx); err != nil {
		return nil, fmt.Errorf("start kubernetes source: %w", err)
	}
	return jobs, nil
}

func closePublishers(publishers []processor.Publisher, log zerolog.Logger) {
	for _, p := range publishers {
		if err := p.Close(); err != nil {
			log.Error().Err(err).Str("publisher", p.Name()).Msg("error closing publisher")
		}
	}
}

func closeService(service *ingest.Service, log zerolog.Logger) {
	if err := service.Close(); err != nil {
		log.Error().Err(err).Msg("error closing publishers")
	}
}

func startPublishers(ctx context.Context, cfg *config.AppConfig, log zerolog.Logger) ([]processor.Publisher, error) {
	var publishers []processor.Publisher

	if cfg.PubSub.Enabled {
		proc, err := processor.NewPubSubProcessor(ctx, processor.PubSubConfig{
			ProjectID:    cfg.PubSub.ProjectID,
			TopicName:    cfg.PubSub.Topic,
			BatchSize:    cfg.PubSub.BatchSize,
			BatchBytes:   cfg.PubSub.BatchBytes,
			BatchTimeout: cfg.PubSub.BatchTimeout,
			BufferSize:   cfg.PubSub.BufferSize,
		})
		if err != nil {
			return nil, fmt.Errorf("create pubsub processor: %w", err)
		}
		if err := proc.Start(ctx); err != nil {
			return nil, fmt.Errorf("start pubsub processor: %w", err)
		}
		publishers = append(publishers, proc)
		log.Info().Str("topic", cfg.PubSub.Topic).Msg("publishing to pubsub")
	}

	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			closePublishers(publishers, log)
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		publishers = append(publishers, processor.NewRedisPublisher(client, cfg.Redis.Stream, cfg.Redis.MaxLen))
		log.Info().Str("stream", cfg.Redis.Stream).Msg("publishing to redis")
	}

	return publishers, nil
}
