package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	jwttoken "relay/internal/jwt_token"
	"relay/internal/platform/config"
	"relay/internal/platform/httpserver"
	"relay/internal/platform/logger"
	httpmetrics "relay/internal/platform/metrics"
	"relay/internal/platform/redis"
	"relay/internal/relay/handler"
	relaymetrics "relay/internal/relay/metrics"
	"relay/internal/relay/notify"
	"relay/internal/relay/retention"
	"relay/internal/relay/service"
	"relay/internal/relay/store/contact"
	"relay/internal/relay/store/identity"
	"relay/internal/relay/store/mailbox"
	"relay/internal/relay/store/state"
	"relay/pkg/platform/audit/publisher"
	"relay/pkg/platform/circuit"
	auditmemory "relay/pkg/platform/audit/store/memory"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the relay HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	envFile, _ := cmd.Flags().GetString("env-file")
	return config.Load(config.LoaderOptions{ConfigPath: configPath, EnvFile: envFile})
}

// mailboxStore is what both the relay and the purger need from the mailbox.
type mailboxStore interface {
	service.Mailbox
	retention.ExpiringStore
}

type stores struct {
	identities service.IdentityStore
	contacts   service.ContactStore
	mailbox    mailboxStore
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(log)

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		client, err := redis.New(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer client.Close()
		redisClient = client
	}

	st, err := buildStores(cfg, redisClient, log)
	if err != nil {
		return err
	}

	relayMetrics := relaymetrics.New()

	auditPublisher := publisher.NewPublisher(auditmemory.NewInMemoryStore(),
		publisher.WithAsyncBuffer(cfg.Relay.AuditBuffer),
		publisher.WithLogger(log),
	)
	defer auditPublisher.Close()

	sink, closeSink, err := buildNotifier(ctx, cfg, redisClient, log)
	if err != nil {
		return err
	}
	defer closeSink()

	dispatcher := notify.NewDispatcher(sink,
		notify.WithQueueSize(cfg.Relay.NotifyQueueSize),
		notify.WithWorkers(cfg.Relay.NotifyWorkers),
		notify.WithMaxTries(uint(cfg.Relay.NotifyMaxTries)),
		notify.WithDispatcherLogger(log),
		notify.WithDispatcherMetrics(relayMetrics),
		notify.WithBreaker(circuit.New("notify:"+cfg.Relay.Notifier)),
	)

	if n, err := st.identities.Count(ctx); err != nil {
		log.WarnContext(ctx, "failed to count identities", "error", err)
	} else {
		relayMetrics.SetIdentities(n)
	}

	relay, err := service.New(st.identities, st.contacts, st.mailbox, state.NewInMemory(),
		service.WithLogger(log),
		service.WithMetrics(relayMetrics),
		service.WithAuditPublisher(auditPublisher),
		service.WithNotifier(dispatcher),
		service.WithPrefixPolicy(cfg.Relay.PrefixMatch, cfg.Relay.PrefixMinLen),
		service.WithDeliveryPreempts(cfg.Relay.DeliveryPreempts),
	)
	if err != nil {
		return err
	}

	purger := retention.New(st.mailbox, cfg.Relay.PurgeInterval,
		retention.WithLogger(log),
		retention.WithMetrics(relayMetrics),
		retention.WithAuditPublisher(auditPublisher),
	)

	jwtService := jwttoken.NewJWTService(cfg.Server.JWTSigningKey, cfg.Server.JWTIssuer, cfg.Server.JWTAudience)
	relayHandler := handler.New(relay, log, jwttoken.NewJWTServiceAdapter(jwtService))

	var health healthChecker
	if redisClient != nil {
		health = redisClient
	}
	router := newRouter(routerDeps{
		logger:         log,
		relay:          relayHandler,
		httpMetrics:    httpmetrics.New(),
		health:         health,
		requestTimeout: cfg.Server.RequestTimeout,
	})
	srv := httpserver.New(cfg.Server.Addr, router)

	log.Info("starting relay",
		"addr", cfg.Server.Addr,
		"store", cfg.Relay.Store,
		"notifier", cfg.Relay.Notifier,
		"retention", cfg.Relay.Retention.String(),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return httpserver.Run(gctx, srv, cfg.Server.ShutdownTimeout, log) })
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error { return purger.Run(gctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("relay stopped")
	return nil
}

func buildStores(cfg *config.Config, client *redis.Client, log *slog.Logger) (stores, error) {
	switch cfg.Relay.Store {
	case config.StoreRedis:
		if client == nil {
			return stores{}, errors.New("redis store selected but REDIS_URL is not set")
		}
		return stores{
			identities: identity.NewRedisStore(client.Client),
			contacts:   contact.NewRedisStore(client.Client),
			mailbox:    mailbox.NewRedisStore(client.Client, cfg.Relay.Retention, mailbox.WithLogger(log)),
		}, nil
	case config.StoreMemory:
		return stores{
			identities: identity.NewInMemory(),
			contacts:   contact.NewInMemory(),
			mailbox:    mailbox.NewInMemory(cfg.Relay.Retention),
		}, nil
	default:
		return stores{}, fmt.Errorf("unknown store %q", cfg.Relay.Store)
	}
}

func buildNotifier(ctx context.Context, cfg *config.Config, client *redis.Client, log *slog.Logger) (notify.Notifier, func(), error) {
	noop := func() {}
	switch cfg.Relay.Notifier {
	case config.NotifierLog:
		return notify.NewLogNotifier(log), noop, nil
	case config.NotifierRedis:
		if client == nil {
			return nil, noop, errors.New("redis notifier selected but REDIS_URL is not set")
		}
		return notify.NewRedisNotifier(client.Client), noop, nil
	case config.NotifierKafka:
		kafkaClient, err := notify.NewKafkaClient(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return nil, noop, err
		}
		if err := notify.EnsureTopic(ctx, kafkaClient, cfg.Kafka.Topic, cfg.Kafka.Partitions, cfg.Kafka.Replication); err != nil {
			kafkaClient.Close()
			return nil, noop, err
		}
		kn := notify.NewKafkaNotifier(kafkaClient, cfg.Kafka.Topic)
		return kn, func() { closeKafka(kn, log) }, nil
	default:
		return nil, noop, fmt.Errorf("unknown notifier %q", cfg.Relay.Notifier)
	}
}

func closeKafka(kn *notify.KafkaNotifier, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := kn.Close(ctx); err != nil {
		log.Warn("kafka flush on shutdown failed", "error", err)
	}
}
