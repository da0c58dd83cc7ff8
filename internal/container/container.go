package container

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/overturn/internal/application/dispatcher"
	"github.com/garyjia/overturn/internal/application/intake"
	"github.com/garyjia/overturn/internal/application/lifecycle"
	"github.com/garyjia/overturn/internal/application/port"
	"github.com/garyjia/overturn/internal/config"
	"github.com/garyjia/overturn/internal/domain/event"
	"github.com/garyjia/overturn/internal/infrastructure/export"
	"github.com/garyjia/overturn/internal/infrastructure/external/lark"
	"github.com/garyjia/overturn/internal/infrastructure/extraction"
	"github.com/garyjia/overturn/internal/infrastructure/live"
	"github.com/garyjia/overturn/internal/infrastructure/metrics"
	"github.com/garyjia/overturn/internal/infrastructure/worker"
	httpapi "github.com/garyjia/overturn/internal/interfaces/http"
	"github.com/garyjia/overturn/pkg/database"
)

// Container owns every long-lived component of the server. Components are
// built in dependency order by Start and torn down in reverse by Close.
type Container struct {
	config *config.Config
	logger *zap.Logger

	// Data
	db           *database.DB
	repositories *RepositoryBundle

	// Events and live updates
	metrics    *metrics.Metrics
	dispatcher dispatcher.Dispatcher
	live       *LiveBundle

	claimStore      *live.PublishingClaimStore
	transcriptStore *live.PublishingTranscriptStore

	// Application
	manager  *lifecycle.Manager
	uploads  *UploadBundle
	intake   *intake.Service
	sessions *httpapi.StaticSessions

	workers *worker.Manager

	mu     sync.Mutex
	cancel context.CancelFunc
	ready  atomic.Bool
	closed atomic.Bool
}

// HealthStatus is the health of all components
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth is the health of one component
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer validates cfg. Nothing is built until Start.
func NewContainer(cfg *config.Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Container{config: cfg, logger: logger}, nil
}

// Start builds the components, starts the background workers and loads
// the board. A failed initial load is logged; the refresh worker retries.
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return errors.New("container has been closed")
	}
	if c.ready.Load() {
		return errors.New("container already started")
	}

	ctx, c.cancel = context.WithCancel(ctx)
	c.logger.Info("Starting container initialization")

	steps := []struct {
		name string
		init func(context.Context) error
	}{
		{"database", c.initDatabase},
		{"events", c.initEvents},
		{"live", c.initLive},
		{"lifecycle", c.initLifecycle},
		{"intake", c.initIntake},
		{"sessions", c.initSessions},
		{"workers", c.initWorkers},
	}
	for _, step := range steps {
		if err := step.init(ctx); err != nil {
			c.teardown()
			c.closed.Store(true)
			return fmt.Errorf("failed to initialize %s: %w", step.name, err)
		}
		c.logger.Info("Component initialized", zap.String("component", step.name))
	}

	if err := c.manager.Load(ctx); err != nil {
		c.logger.Error("Initial claim load failed", zap.Error(err))
	}

	c.ready.Store(true)
	c.logger.Info("Container started successfully")
	return nil
}

// Close stops the workers and releases every component in reverse order
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return errors.New("container already closed")
	}
	c.logger.Info("Closing container")

	errs := c.teardown()
	c.closed.Store(true)
	c.ready.Store(false)

	if len(errs) > 0 {
		c.logger.Error("Container closed with errors", zap.Int("error_count", len(errs)))
		return fmt.Errorf("container closed with %d errors: %w", len(errs), errors.Join(errs...))
	}
	c.logger.Info("Container closed successfully")
	return nil
}

func (c *Container) teardown() []error {
	var errs []error
	record := func(what string, err error) {
		if err != nil {
			c.logger.Error("Failed to close component", zap.String("component", what), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", what, err))
		}
	}

	if c.cancel != nil {
		c.cancel()
	}
	if c.workers != nil {
		record("workers", c.workers.StopAll())
	}
	if c.manager != nil {
		c.manager.Wait()
	}
	if c.dispatcher != nil {
		record("dispatcher", c.dispatcher.Close())
	}
	if c.live != nil {
		if c.live.NATS != nil {
			record("nats", c.live.NATS.Close())
		}
		record("hub", c.live.Hub.Close())
	}
	if c.db != nil {
		record("database", c.db.Close())
	}
	return errs
}

// Ready reports whether Start completed
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health checks the database and the worker set
func (c *Container) Health() *HealthStatus {
	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}
	set := func(name string, h ComponentHealth) {
		status.Components[name] = h
		if !h.Healthy {
			status.Overall = false
		}
	}

	switch {
	case c.db == nil:
		set("database", ComponentHealth{Message: "not initialized"})
	default:
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := c.db.PingContext(ctx)
		cancel()
		if err != nil {
			set("database", ComponentHealth{Message: fmt.Sprintf("ping failed: %v", err)})
		} else {
			set("database", ComponentHealth{Healthy: true})
		}
	}

	if c.workers == nil {
		set("workers", ComponentHealth{Message: "not initialized"})
	} else {
		set("workers", ComponentHealth{
			Healthy: c.workers.IsRunning(),
			Message: fmt.Sprintf("worker count: %d", c.workers.Count()),
		})
	}

	if c.live != nil {
		set("live", ComponentHealth{
			Healthy: true,
			Message: fmt.Sprintf("transport: %s, browsers: %d", c.liveTransport(), c.live.Hub.ClientCount()),
		})
	}
	return status
}

func (c *Container) liveTransport() string {
	if c.config.Live.Transport == "" {
		return config.TransportNone
	}
	return c.config.Live.Transport
}

func (c *Container) initDatabase(ctx context.Context) error {
	db, err := ProvideDatabase(ctx, c.config.Database, c.logger)
	if err != nil {
		return err
	}
	c.db = db
	c.repositories = ProvideRepositories(db, c.logger)
	return nil
}

func (c *Container) initEvents(context.Context) error {
	var observer dispatcher.Observer
	if c.config.Metrics.Enabled {
		c.metrics = metrics.New(c.config.Metrics.Namespace)
		observer = c.metrics.ObserveHandler
	}
	c.dispatcher = ProvideDispatcher(c.logger.Named("events"), observer)
	c.dispatcher.SubscribeNamed(event.TypeSessionChanged, "session.log", func(ctx context.Context, evt *event.Event) error {
		c.logger.Info("Session changed",
			zap.String("user_id", evt.GetPayloadString("user_id")),
			zap.Bool("active", evt.GetPayloadBool("active")))
		return nil
	})
	return nil
}

func (c *Container) initLive(context.Context) error {
	b, err := ProvideLive(c.config.Live, c.config.Server.AllowedOrigins, c.logger.Named("live"))
	if err != nil {
		return err
	}
	c.live = b
	c.claimStore = live.NewPublishingClaimStore(c.repositories.Claims, b.Publishers, c.config.Live.ClaimChannel, c.logger)
	c.transcriptStore = live.NewPublishingTranscriptStore(c.repositories.Transcripts, b.Publishers, c.config.Live.TranscriptChannel, c.logger)
	return nil
}

func (c *Container) initLifecycle(context.Context) error {
	var m lifecycle.Metrics
	if c.metrics != nil {
		m = c.metrics
	}
	manager, err := ProvideLifecycle(c.config.Lifecycle, c.claimStore, c.dispatcher, m, c.logger.Named("lifecycle"))
	if err != nil {
		return err
	}
	c.manager = manager

	if c.config.Lark.Enabled {
		larkCfg := lark.Config{
			AppID:         c.config.Lark.AppID,
			AppSecret:     c.config.Lark.AppSecret,
			ReceiveIDType: c.config.Lark.ReceiveIDType,
			ReceiveID:     c.config.Lark.ReceiveID,
		}
		notifier := lark.NewResultNotifier(lark.NewClient(larkCfg, c.logger), larkCfg, c.config.Lark.BoardURL, c.logger)
		lifecycle.NotifyOnResult(c.dispatcher, notifier, c.logger)
	}
	return nil
}

func (c *Container) initIntake(ctx context.Context) error {
	uploads, err := ProvideUploads(ctx, c.config.Storage, c.logger.Named("storage"))
	if err != nil {
		return err
	}
	c.uploads = uploads

	extractor, err := ProvideExtractor(c.config.Extraction, c.logger.Named("extraction"))
	if err != nil {
		return err
	}
	letters, err := extraction.NewTemplateLetterGenerator(extraction.DefaultLetterTemplate)
	if err != nil {
		return err
	}

	c.intake = intake.NewService(
		uploads.Service,
		extraction.NewPDFReader(c.config.Extraction.MaxPages, c.logger),
		extractor,
		letters,
		c.manager,
		c.logger.Named("intake"),
		intake.WithMaxUploadSize(int(c.config.Extraction.MaxUploadSize)),
		intake.WithPhrases(func(ext *port.Extraction) []string {
			return extraction.NewLetterData(ext).Phrases()
		}),
	)
	return nil
}

func (c *Container) initSessions(context.Context) error {
	tokens := c.config.Session.TokenMap()
	if len(tokens) == 0 {
		c.logger.Warn("No session tokens configured, every API request will be rejected")
	}
	c.sessions = httpapi.NewStaticSessions(tokens)
	return nil
}

func (c *Container) initWorkers(ctx context.Context) error {
	c.workers = worker.NewManager(c.logger)
	c.workers.Register(worker.NewLoop("lifecycle-manager", c.manager.Run, c.logger))

	if c.live.Channel != nil {
		opts := []lifecycle.MergerOption{
			lifecycle.WithMergerLogger(c.logger.Named("merger")),
			lifecycle.WithChannels(c.config.Live.TranscriptChannel, c.config.Live.ClaimChannel),
			lifecycle.WithBackoff(c.config.Live.InitialBackoff, c.config.Live.MaxBackoff),
		}
		if c.metrics != nil {
			opts = append(opts, lifecycle.WithMergerMetrics(c.metrics))
		}
		merger := lifecycle.NewMerger(c.live.Channel, c.dispatcher, opts...)
		c.workers.Register(worker.NewLoop("live-merger", merger.Run, c.logger))
	}
	if c.config.Lifecycle.RefreshInterval > 0 {
		c.workers.Register(worker.NewTicker("claim-refresh",
			c.config.Lifecycle.RefreshInterval, c.config.Lifecycle.WriteTimeout, c.manager.Load, c.logger))
	}
	c.workers.Register(worker.NewLoop("session-watch", watchSessions(c.sessions, c.dispatcher), c.logger))

	return c.workers.StartAll(ctx)
}

// watchSessions forwards session changes onto the event bus
func watchSessions(sessions port.SessionProvider, events dispatcher.Dispatcher) worker.RunFunc {
	return func(ctx context.Context) error {
		changes := sessions.Subscribe()
		for {
			select {
			case <-ctx.Done():
				return nil
			case change := <-changes:
				events.DispatchAsync(ctx, event.NewEvent(event.TypeSessionChanged, "", map[string]any{
					"user_id": change.UserID,
					"active":  change.Active,
				}))
			}
		}
	}
}

// HTTPDeps returns the collaborators for the HTTP server
func (c *Container) HTTPDeps() httpapi.Deps {
	deps := httpapi.Deps{
		Claims:            c.manager,
		Transcripts:       c.transcriptStore,
		History:           c.repositories.History,
		Intake:            c.intake,
		Export:            export.NewBoardExporter(time.Local, c.logger),
		Sessions:          c.sessions,
		Live:              c.live.Hub,
		UploadsDir:        c.uploads.LocalDir,
		MaxUploadSize:     int(c.config.Extraction.MaxUploadSize),
		DirectTranscripts: c.config.Live.Transport != config.TransportNATS,
		Health: func() (bool, any) {
			h := c.Health()
			return h.Overall, h.Components
		},
	}
	if c.metrics != nil {
		deps.Metrics = c.metrics
	}
	return deps
}

// Manager returns the claim lifecycle manager
func (c *Container) Manager() *lifecycle.Manager {
	return c.manager
}

// Intake returns the intake service
func (c *Container) Intake() *intake.Service {
	return c.intake
}

// Sessions returns the session provider
func (c *Container) Sessions() *httpapi.StaticSessions {
	return c.sessions
}

// Dispatcher returns the event bus
func (c *Container) Dispatcher() dispatcher.Dispatcher {
	return c.dispatcher
}

// Repositories returns the sqlite repositories
func (c *Container) Repositories() *RepositoryBundle {
	return c.repositories
}

// Workers returns the worker manager
func (c *Container) Workers() *worker.Manager {
	return c.workers
}

// Config returns the container's configuration
func (c *Container) Config() *config.Config {
	return c.config
}
