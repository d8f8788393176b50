package importtracker

import (
	"context"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/armadaproject/importtracker/internal/common"
	"github.com/armadaproject/importtracker/internal/common/health"
	"github.com/armadaproject/importtracker/internal/common/logging"
	"github.com/armadaproject/importtracker/internal/common/task"
	"github.com/armadaproject/importtracker/internal/common/trackererrors"
	"github.com/armadaproject/importtracker/internal/common/util"
	"github.com/armadaproject/importtracker/internal/importtracker/configuration"
	"github.com/armadaproject/importtracker/internal/importtracker/fakeworker"
	"github.com/armadaproject/importtracker/internal/importtracker/httpapi"
	"github.com/armadaproject/importtracker/internal/importtracker/identity"
	"github.com/armadaproject/importtracker/internal/importtracker/metrics"
	"github.com/armadaproject/importtracker/internal/importtracker/repository"
	"github.com/armadaproject/importtracker/internal/importtracker/server"
	"github.com/armadaproject/importtracker/internal/importtracker/statusupdates"
	"github.com/armadaproject/importtracker/internal/importtracker/transport"
)

const taskShutdownTimeout = 5 * time.Second

type App struct {
	// Configuration for the import tracker
	Config *configuration.ImportTrackerConfiguration
}

func New(config *configuration.ImportTrackerConfiguration) *App {
	return &App{Config: config}
}

// Services is everything StartUp wires together, minus the listeners.
type Services struct {
	Config    *configuration.ImportTrackerConfiguration
	Transport transport.Transport
	Publisher *transport.RetryingPublisher
	Tracker   *server.ImportTracker
	Router    *mux.Router
	Metrics   *metrics.Metrics
	Clock     util.Clock

	registerer prometheus.Registerer
}

// NewServices builds the tracker on top of an open transport. Metrics are registered with
// registerer, which may be nil.
func NewServices(
	config *configuration.ImportTrackerConfiguration,
	tr transport.Transport,
	registerer prometheus.Registerer,
	clock util.Clock,
) *Services {
	m := metrics.New(registerer)
	publisher := transport.NewRetryingPublisher(tr, config.PublishRetry).OnFailure(m.RecordPublishFailure)
	users, userMiddleware := NewUserProvider(config.Identity)

	tracker := server.NewImportTracker(
		config,
		repository.NewStatusIndex(config.IndexStripes),
		repository.NewAdmissionLedger(config.AdmissionTTL, config.EvictionInterval),
		publisher,
		users,
		clock,
		m,
	)
	if registerer != nil {
		metrics.ExposeStateMetrics(registerer, tracker)
	}

	var middlewares []mux.MiddlewareFunc
	if userMiddleware != nil {
		middlewares = append(middlewares, userMiddleware)
	}
	router := httpapi.NewRouter(tracker, health.NewMultiChecker(tr), middlewares...)

	return &Services{
		Config:     config,
		Transport:  tr,
		Publisher:  publisher,
		Tracker:    tracker,
		Router:     router,
		Metrics:    m,
		Clock:      clock,
		registerer: registerer,
	}
}

// Run consumes the configured subsystem's channels and evicts idle jobs until ctx is cancelled.
func (s *Services) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	config := s.Config

	taskManager := task.NewBackgroundTaskManager(metrics.MetricPrefix, s.registerer)
	taskManager.Register(s.Tracker.Evict, config.EvictionInterval, "evict_idle_jobs")
	defer func() {
		if timedOut := taskManager.StopAll(taskShutdownTimeout); timedOut {
			log.Warn("timed out waiting for background tasks to stop")
		}
	}()

	relay := statusupdates.NewRelay(config.Subsystem, s.Publisher, s.Clock, s.Metrics)
	g.Go(func() error {
		return statusupdates.RunConsumers(ctx, s.Transport, s.Publisher, statusupdates.ConsumerConfig{
			Channel:           transport.IncomingChannel(config.Subsystem),
			Group:             config.ConsumerGroup,
			DeadLetterChannel: transport.DeadLetterChannel(config.Subsystem),
			Concurrency:       config.RelayConcurrency,
			Retry:             config.HandlerRetry,
		}, relay.Handle, s.Metrics)
	})

	updater, err := statusupdates.NewUpdater(config.Subsystem, s.Tracker, config.DedupCacheSize, s.Metrics)
	if err != nil {
		return err
	}
	g.Go(func() error {
		return statusupdates.RunConsumers(ctx, s.Transport, s.Publisher, statusupdates.ConsumerConfig{
			Channel:           transport.StatusChannel(config.Subsystem),
			Group:             config.ConsumerGroup,
			DeadLetterChannel: transport.DeadLetterChannel(config.Subsystem),
			Concurrency:       config.StatusConcurrency,
			Retry:             config.HandlerRetry,
		}, updater.Handle, s.Metrics)
	})

	if config.FakeWorker.Enabled {
		log.Warn("running the fake worker in process; imports will not really be processed")
		g.Go(func() error {
			return runFakeWorker(ctx, s.Transport, s.Publisher, config, s.Clock, s.Metrics)
		})
	}

	return g.Wait()
}

// StartUp opens the configured transport and serves the tracker until ctx is cancelled.
func (a *App) StartUp(ctx context.Context) error {
	config := a.Config
	if err := RectifyConfig(config); err != nil {
		return err
	}
	logger := log.WithField("ImportTracker", "StartUp")

	tr, err := NewTransport(config.Transport)
	if err != nil {
		return err
	}
	defer func() {
		if err := tr.Close(); err != nil {
			logging.WithStacktrace(logger, err).Warn("error closing transport")
		}
	}()

	if err := logging.ExposeLogMetrics(); err != nil {
		logging.WithStacktrace(logger, err).Warn("log lines will not be counted")
	}
	services := NewServices(config, tr, prometheus.DefaultRegisterer, &util.DefaultClock{})

	shutdownMetrics := common.ServeMetrics(config.MetricsPort)
	defer shutdownMetrics()
	shutdownHttp := common.ServeHttp(config.HttpPort, services.Router)
	defer shutdownHttp()

	logger.Infof("import tracker serving subsystem %s over %s transport", config.Subsystem, config.Transport.Type)
	return services.Run(ctx)
}

// RunFakeWorker runs only the fake worker, against the configured transport.
func (a *App) RunFakeWorker(ctx context.Context) error {
	config := a.Config
	if err := RectifyConfig(config); err != nil {
		return err
	}
	tr, err := NewTransport(config.Transport)
	if err != nil {
		return err
	}
	defer tr.Close()

	if err := logging.ExposeLogMetrics(); err != nil {
		logging.WithStacktrace(log.WithField("ImportTracker", "RunFakeWorker"), err).Warn("log lines will not be counted")
	}
	m := metrics.New(prometheus.DefaultRegisterer)
	shutdownMetrics := common.ServeMetrics(config.MetricsPort)
	defer shutdownMetrics()

	publisher := transport.NewRetryingPublisher(tr, config.PublishRetry).OnFailure(m.RecordPublishFailure)
	return runFakeWorker(ctx, tr, publisher, config, &util.DefaultClock{}, m)
}

func runFakeWorker(
	ctx context.Context,
	subscriber transport.Subscriber,
	publisher transport.Publisher,
	config *configuration.ImportTrackerConfiguration,
	clock util.Clock,
	m *metrics.Metrics,
) error {
	worker := fakeworker.New(statusupdates.NewReporter(publisher, clock), config.FakeWorker.Delay)
	return statusupdates.RunConsumers(ctx, subscriber, publisher, statusupdates.ConsumerConfig{
		Channel:           transport.ProcessingChannel(config.Subsystem),
		Group:             config.ConsumerGroup + "-fakeworker",
		DeadLetterChannel: transport.DeadLetterChannel(config.Subsystem),
		Concurrency:       config.FakeWorker.Concurrency,
		Retry:             config.HandlerRetry,
	}, worker.Handle, m)
}

// NewTransport connects to the transport named by config.Type.
func NewTransport(config configuration.TransportConfig) (transport.Transport, error) {
	switch config.Type {
	case configuration.TransportMemory:
		return transport.NewMemoryTransport(config.Memory.BufferSize), nil
	case configuration.TransportPulsar:
		client, err := transport.NewPulsarClient(config.Pulsar)
		if err != nil {
			return nil, err
		}
		return transport.NewPulsarTransport(client, config.Pulsar), nil
	case configuration.TransportNats:
		return transport.NewNatsTransport(config.Nats)
	case configuration.TransportRedis:
		return transport.NewRedisTransport(transport.NewRedisClient(config.Redis), config.Redis), nil
	default:
		return nil, errors.WithStack(&trackererrors.ErrUnsupported{
			Name:      "transport",
			Value:     config.Type,
			Supported: supportedTransports,
		})
	}
}

// NewUserProvider returns the configured provider and, for header identities, the middleware
// that must run in front of the API.
func NewUserProvider(config configuration.IdentityConfig) (identity.UserProvider, mux.MiddlewareFunc) {
	if config.Type == configuration.IdentityHeader {
		return identity.ContextUserProvider{}, identity.HeaderMiddleware(config.Header)
	}
	return &identity.StaticUserProvider{Id: config.UserId}, nil
}

var supportedTransports = []string{
	configuration.TransportMemory,
	configuration.TransportPulsar,
	configuration.TransportNats,
	configuration.TransportRedis,
}

var DefaultConfiguration = configuration.ImportTrackerConfiguration{
	HttpPort:           8080,
	MetricsPort:        9000,
	Logging:            logging.Config{Level: "info", Format: logging.FormatText},
	StalenessThreshold: 30 * time.Second,
	IndexStripes:       repository.DefaultStripes,
	IdleTTL:            time.Hour,
	EvictionInterval:   time.Minute,
	AdmissionTTL:       10 * time.Minute,
	RelayConcurrency:   1,
	StatusConcurrency:  1,
	ConsumerGroup:      "importtracker",
	DedupCacheSize:     statusupdates.DefaultDedupCacheSize,
	PublishRetry:       transport.RetryConfig{Attempts: 5, Delay: 100 * time.Millisecond, MaxDelay: 5 * time.Second},
	HandlerRetry:       transport.RetryConfig{Attempts: 3, Delay: 100 * time.Millisecond, MaxDelay: time.Second},
	Transport:          configuration.TransportConfig{Type: configuration.TransportMemory},
	Identity:           configuration.IdentityConfig{Type: configuration.IdentityStatic, Header: "X-User-Id"},
	FakeWorker:         configuration.FakeWorkerConfig{Delay: 5 * time.Second, Concurrency: 1},
}

// RectifyConfig replaces invalid values with defaults, logging a warning for each.
// Returns a non-nil error if mis-configuration is unrecoverable.
func RectifyConfig(config *configuration.ImportTrackerConfiguration) error {
	logger := log.WithField("ImportTracker", "RectifyConfig")
	warn := func(field string, configured interface{}, def interface{}) {
		logger.WithFields(log.Fields{
			"default":    def,
			"configured": configured,
		}).Warnf("config.%s invalid, using default instead", field)
	}

	if len(config.SupportedSubsystems) == 0 {
		return errors.WithStack(&trackererrors.ErrInvalidArgument{
			Name:    "SupportedSubsystems",
			Value:   config.SupportedSubsystems,
			Message: "at least one subsystem must be supported",
		})
	}
	if !contains(config.SupportedSubsystems, config.Subsystem) {
		return errors.WithStack(&trackererrors.ErrUnsupported{
			Name:      "subsystem",
			Value:     config.Subsystem,
			Supported: config.SupportedSubsystems,
		})
	}
	if !contains(supportedTransports, config.Transport.Type) {
		return errors.WithStack(&trackererrors.ErrUnsupported{
			Name:      "transport",
			Value:     config.Transport.Type,
			Supported: supportedTransports,
		})
	}
	if config.Identity.Type != configuration.IdentityStatic && config.Identity.Type != configuration.IdentityHeader {
		return errors.WithStack(&trackererrors.ErrUnsupported{
			Name:      "identity",
			Value:     config.Identity.Type,
			Supported: []string{configuration.IdentityStatic, configuration.IdentityHeader},
		})
	}
	if config.Identity.Type == configuration.IdentityHeader && config.Identity.Header == "" {
		warn("Identity.Header", config.Identity.Header, DefaultConfiguration.Identity.Header)
		config.Identity.Header = DefaultConfiguration.Identity.Header
	}

	if config.StalenessThreshold <= 0 {
		warn("StalenessThreshold", config.StalenessThreshold, DefaultConfiguration.StalenessThreshold)
		config.StalenessThreshold = DefaultConfiguration.StalenessThreshold
	}
	if config.IndexStripes <= 0 {
		warn("IndexStripes", config.IndexStripes, DefaultConfiguration.IndexStripes)
		config.IndexStripes = DefaultConfiguration.IndexStripes
	}
	if config.IdleTTL <= 0 {
		warn("IdleTTL", config.IdleTTL, DefaultConfiguration.IdleTTL)
		config.IdleTTL = DefaultConfiguration.IdleTTL
	}
	if config.EvictionInterval <= 0 {
		warn("EvictionInterval", config.EvictionInterval, DefaultConfiguration.EvictionInterval)
		config.EvictionInterval = DefaultConfiguration.EvictionInterval
	}
	if config.AdmissionTTL <= 0 {
		warn("AdmissionTTL", config.AdmissionTTL, DefaultConfiguration.AdmissionTTL)
		config.AdmissionTTL = DefaultConfiguration.AdmissionTTL
	}
	if config.RelayConcurrency <= 0 {
		warn("RelayConcurrency", config.RelayConcurrency, DefaultConfiguration.RelayConcurrency)
		config.RelayConcurrency = DefaultConfiguration.RelayConcurrency
	}
	if config.StatusConcurrency <= 0 {
		warn("StatusConcurrency", config.StatusConcurrency, DefaultConfiguration.StatusConcurrency)
		config.StatusConcurrency = DefaultConfiguration.StatusConcurrency
	}
	if config.ConsumerGroup == "" {
		warn("ConsumerGroup", config.ConsumerGroup, DefaultConfiguration.ConsumerGroup)
		config.ConsumerGroup = DefaultConfiguration.ConsumerGroup
	}
	if config.DedupCacheSize <= 0 {
		warn("DedupCacheSize", config.DedupCacheSize, DefaultConfiguration.DedupCacheSize)
		config.DedupCacheSize = DefaultConfiguration.DedupCacheSize
	}
	if config.PublishRetry.Attempts == 0 {
		warn("PublishRetry.Attempts", config.PublishRetry.Attempts, DefaultConfiguration.PublishRetry.Attempts)
		config.PublishRetry.Attempts = DefaultConfiguration.PublishRetry.Attempts
	}
	if config.HandlerRetry.Attempts == 0 {
		warn("HandlerRetry.Attempts", config.HandlerRetry.Attempts, DefaultConfiguration.HandlerRetry.Attempts)
		config.HandlerRetry.Attempts = DefaultConfiguration.HandlerRetry.Attempts
	}
	if config.FakeWorker.Concurrency <= 0 {
		warn("FakeWorker.Concurrency", config.FakeWorker.Concurrency, DefaultConfiguration.FakeWorker.Concurrency)
		config.FakeWorker.Concurrency = DefaultConfiguration.FakeWorker.Concurrency
	}
	return nil
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}
