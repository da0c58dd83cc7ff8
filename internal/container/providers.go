package container

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/garyjia/overturn/internal/application/dispatcher"
	"github.com/garyjia/overturn/internal/application/lifecycle"
	"github.com/garyjia/overturn/internal/application/port"
	"github.com/garyjia/overturn/internal/config"
	"github.com/garyjia/overturn/internal/infrastructure/extraction"
	"github.com/garyjia/overturn/internal/infrastructure/live"
	"github.com/garyjia/overturn/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/overturn/internal/infrastructure/storage"
	"github.com/garyjia/overturn/pkg/database"
	"github.com/garyjia/overturn/pkg/utils"
)

// RepositoryBundle groups the sqlite repositories
type RepositoryBundle struct {
	DB          *sqlite.DB
	Claims      *sqlite.ClaimRepository
	History     *sqlite.HistoryRepository
	Transcripts *sqlite.TranscriptRepository
}

// LiveBundle holds the live channel pieces. Channel is nil when no
// transport is configured.
type LiveBundle struct {
	Hub        *live.Hub
	NATS       *live.NATSChannel
	Channel    port.LiveChannel
	Publishers live.Fanout
}

// UploadBundle is the document store and, for the local backend, the
// directory served under /uploads
type UploadBundle struct {
	Service  port.UploadService
	LocalDir string
}

// ProvideDatabase opens the database and applies pending migrations
func ProvideDatabase(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*database.DB, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, err
	}

	applied, err := database.NewMigrator(db, logger).Run(ctx, database.Schema())
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("Migrations applied", zap.Int("count", applied))
	return db, nil
}

// ProvideRepositories builds the repositories over db
func ProvideRepositories(db *database.DB, logger *zap.Logger) *RepositoryBundle {
	sqlDB := sqlite.NewDB(db, logger)
	history := sqlite.NewHistoryRepository(sqlDB, logger)
	return &RepositoryBundle{
		DB:          sqlDB,
		Claims:      sqlite.NewClaimRepository(sqlDB, history, logger),
		History:     history,
		Transcripts: sqlite.NewTranscriptRepository(sqlDB, logger),
	}
}

// ProvideDispatcher creates the event bus, observed by observer when set
func ProvideDispatcher(logger *zap.Logger, observer dispatcher.Observer) dispatcher.Dispatcher {
	opts := []dispatcher.Option{dispatcher.WithLogger(utils.NewKeyValueLogger(logger))}
	if observer != nil {
		opts = append(opts, dispatcher.WithObserver(observer))
	}
	return dispatcher.NewDispatcher(opts...)
}

// ProvideLive builds the browser hub and the configured inbound transport
func ProvideLive(cfg config.LiveConfig, allowedOrigins []string, logger *zap.Logger) (*LiveBundle, error) {
	b := &LiveBundle{Hub: live.NewHub(logger, allowedOrigins...)}
	b.Publishers = live.Fanout{b.Hub}
	channels := []string{cfg.TranscriptChannel, cfg.ClaimChannel}

	switch cfg.Transport {
	case config.TransportNATS:
		opts := []live.NATSOption{live.WithNATSLogger(logger)}
		if cfg.SubjectPrefix != "" {
			opts = append(opts, live.WithSubjectPrefix(cfg.SubjectPrefix))
		}
		nc, err := live.DialNATS(cfg.URL, channels, opts...)
		if err != nil {
			_ = b.Hub.Close()
			return nil, err
		}
		b.NATS = nc
		b.Channel = nc
		b.Publishers = append(b.Publishers, nc)
	case config.TransportWebSocket:
		b.Channel = live.NewWebSocketChannel(cfg.URL, channels,
			live.WithToken(cfg.Token),
			live.WithWebSocketLogger(logger))
	}
	return b, nil
}

// ProvideLifecycle builds the manager over store; metrics may be nil
func ProvideLifecycle(cfg config.LifecycleConfig, store port.ClaimStore, d dispatcher.Dispatcher, metrics lifecycle.Metrics, logger *zap.Logger) (*lifecycle.Manager, error) {
	validator, err := lifecycle.NewValidator(cfg.TransitionPolicy)
	if err != nil {
		return nil, err
	}
	inFlight, err := lifecycle.ParseInFlightPolicy(cfg.InFlightPolicy)
	if err != nil {
		return nil, err
	}

	opts := []lifecycle.ManagerOption{
		lifecycle.WithLogger(logger),
		lifecycle.WithDispatcher(d),
		lifecycle.WithWriteTimeout(cfg.WriteTimeout),
	}
	if metrics != nil {
		opts = append(opts, lifecycle.WithMetrics(metrics))
	}

	m := lifecycle.NewManager(lifecycle.NewStore(validator, lifecycle.WithInFlightPolicy(inFlight)), store, opts...)
	m.Register(d)
	return m, nil
}

// ProvideUploads selects the document store
func ProvideUploads(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (*UploadBundle, error) {
	switch cfg.Backend {
	case config.StorageS3:
		client, endpoint, err := storage.NewS3Client(ctx, cfg.S3Region)
		if err != nil {
			return nil, err
		}
		return &UploadBundle{Service: storage.NewS3Storage(client, storage.S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Prefix:    cfg.S3Prefix,
			PublicURL: cfg.S3PublicURL,
		}, endpoint, logger)}, nil
	case config.StorageLocal:
		if err := os.MkdirAll(cfg.LocalDir, 0o755); err != nil {
			return nil, fmt.Errorf("create upload directory: %w", err)
		}
		return &UploadBundle{
			Service:  storage.NewLocalStorage(cfg.LocalDir, cfg.PublicBaseURL, logger),
			LocalDir: cfg.LocalDir,
		}, nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %q", cfg.Backend)
	}
}

// ProvideExtractor selects the field extractor. The LLM extractor falls
// back to the regex parser when the model call fails.
func ProvideExtractor(cfg config.ExtractionConfig, logger *zap.Logger) (port.Extractor, error) {
	switch cfg.Mode {
	case config.ExtractionMock:
		return extraction.SampleExtractor{}, nil
	case config.ExtractionRegex:
		return extraction.NewRegexExtractor(), nil
	case config.ExtractionLLM:
		client := extraction.NewOpenAIClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Timeout)
		llm := extraction.NewLLMExtractor(client, cfg.OpenAI.Model, cfg.OpenAI.Temperature, logger)
		return extraction.NewFallbackExtractor(llm, extraction.NewRegexExtractor(), logger), nil
	default:
		return nil, fmt.Errorf("unknown extraction mode: %q", cfg.Mode)
	}
}
