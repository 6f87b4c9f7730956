package bridge

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/rtcbridge/component"
	"github.com/c360/rtcbridge/config"
	"github.com/c360/rtcbridge/errors"
	"github.com/c360/rtcbridge/event"
	"github.com/c360/rtcbridge/eventbridge"
	"github.com/c360/rtcbridge/health"
	"github.com/c360/rtcbridge/metric"
	"github.com/c360/rtcbridge/pkg/retry"
	"github.com/c360/rtcbridge/transport"
)

var (
	// ErrStillStopping is returned by Init while a shutdown is in progress
	ErrStillStopping = stderrors.New("bridge is still stopping")
	// ErrNilHost is returned by Init when the controller has no host
	ErrNilHost = stderrors.New("nil host")
)

// Host is the gateway side of the bridge. IncomingRequest receives every
// parsed request; the host answers later through Controller.SendMessage.
type Host interface {
	IncomingRequest(session *transport.Session, admin bool, doc event.Document)
}

// Info describes the bridge in status replies
type Info struct {
	Name          string
	Version       int
	VersionString string
	Author        string
	Description   string
	Package       string
}

// DefaultInfo returns the bridge identity
func DefaultInfo() Info {
	return Info{
		Name:          "rtcbridge NATS bridge",
		Version:       1,
		VersionString: "0.1.0",
		Author:        "C360 Studio",
		Description:   "Publishes gateway events and serves the gateway APIs over NATS.",
		Package:       "rtcbridge",
	}
}

// Option configures a Controller
type Option func(*Controller)

// WithLogger sets the logger handed to every bridge component
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetricsRegistry enables Prometheus metrics for all components
func WithMetricsRegistry(registry *metric.MetricsRegistry) Option {
	return func(c *Controller) {
		c.registry = registry
	}
}

// WithInfo overrides the identity reported by QueryStatus
func WithInfo(info Info) Option {
	return func(c *Controller) {
		c.info = info
	}
}

// WithFabricFactory replaces the NATS connection, mainly for tests
func WithFabricFactory(factory FabricFactory) Option {
	return func(c *Controller) {
		if factory != nil {
			c.newFabric = factory
		}
	}
}

// WithLoader sets the configuration loader
func WithLoader(loader *config.Loader) Option {
	return func(c *Controller) {
		if loader != nil {
			c.loader = loader
		}
	}
}

// WithConnectRetry sets the backoff between connection attempts. The
// attempt count comes from nats.connect_attempts.
func WithConnectRetry(cfg retry.Config) Option {
	return func(c *Controller) {
		c.connectRetry = cfg
	}
}

// WithStopTimeout bounds how long each component may take to stop
func WithStopTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.stopTimeout = d
		}
	}
}

// Controller owns the bridge lifecycle: the shared fabric connection, the
// event publisher and the request bridge. It replaces process-wide state
// with one object the host creates and drives.
type Controller struct {
	host         Host
	info         Info
	logger       *slog.Logger
	registry     *metric.MetricsRegistry
	loader       *config.Loader
	newFabric    FabricFactory
	connectRetry retry.Config
	stopTimeout  time.Duration

	lifecycle component.Lifecycle
	mu        sync.Mutex // serializes Init and Shutdown
	monitor   *health.Monitor

	cfg       atomic.Pointer[config.Config]
	fabric    Fabric
	publisher atomic.Pointer[eventbridge.Publisher]
	requests  atomic.Pointer[transport.Bridge]
}

// NewController creates an uninitialized controller for host
func NewController(host Host, opts ...Option) *Controller {
	c := &Controller{
		host:         host,
		info:         DefaultInfo(),
		logger:       slog.Default().With("component", "rtcbridge"),
		loader:       config.NewLoader(),
		newFabric:    NewNATSFabric,
		connectRetry: retry.DefaultConfig(),
		stopTimeout:  5 * time.Second,
		monitor:      health.NewMonitor(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the controller lifecycle state
func (c *Controller) State() component.State {
	return c.lifecycle.State()
}

// Config returns the active configuration, nil before Init and after Shutdown
func (c *Controller) Config() *config.Config {
	return c.cfg.Load()
}

// Init loads the configuration from configDir and brings up the enabled
// bridges in order: fabric connection, event publisher, public endpoint,
// admin endpoint. On failure everything started so far is shut down again
// and a fatal error is returned. With no bridge enabled Init succeeds and
// nothing is bound.
func (c *Controller) Init(ctx context.Context, configDir string) error {
	// A shutdown in progress holds mu; report it instead of waiting.
	if c.lifecycle.State() == component.StateStopping {
		return errors.WrapInvalid(ErrStillStopping, "Controller", "Init", "state check")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.lifecycle.State() {
	case component.StateRunning:
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Controller", "Init", "state check")
	case component.StateStopping:
		return errors.WrapInvalid(ErrStillStopping, "Controller", "Init", "state check")
	}
	if c.host == nil {
		return errors.WrapFatal(ErrNilHost, "Controller", "Init", "host check")
	}

	cfg, err := c.loader.LoadDir(configDir)
	if err != nil {
		return errors.WrapFatal(err, "Controller", "Init", "load configuration")
	}
	if cfg.Source == "" {
		c.logger.Warn("No configuration file found, using defaults", "dir", configDir)
	}

	c.cfg.Store(cfg)
	c.monitor.Clear()
	if !c.lifecycle.Start() {
		return errors.WrapInvalid(ErrStillStopping, "Controller", "Init", "start")
	}
	c.recordState()

	if !cfg.AnyEnabled() {
		c.monitor.Update("nats", health.NewDisabled("nats"))
		c.monitor.Update("events", health.NewDisabled("events"))
		c.monitor.Update("transport", health.NewDisabled("transport"))
		c.logger.Warn("Events and transport disabled, nothing to bind")
		return nil
	}

	err = c.start(ctx, cfg)
	if c.registry != nil {
		c.registry.CoreMetrics().RecordInit(err)
	}
	if err != nil {
		c.logger.Error("Bridge initialization failed", "error", err)
		if stopErr := c.shutdownLocked(ctx); stopErr != nil {
			c.logger.Warn("Cleanup after failed initialization reported errors", "error", stopErr)
		}
		return errors.WrapFatal(err, "Controller", "Init", "start bridges")
	}

	c.logger.Info("Bridge initialized", "events", cfg.Events.Enabled, "api", cfg.Transport.Enabled,
		"admin_api", cfg.Transport.AdminEnabled, "nats", cfg.NATS.URL)
	return nil
}

func (c *Controller) start(ctx context.Context, cfg *config.Config) error {
	fabric, err := c.newFabric(cfg, FabricDeps{
		Logger:          c.logger.With("component", "nats"),
		MetricsRegistry: c.registry,
		OnHealthChange:  c.onFabricHealth,
	})
	if err != nil {
		return errors.Wrap(err, "Controller", "start", "create fabric")
	}
	c.fabric = fabric

	retryCfg := c.connectRetry
	retryCfg.MaxAttempts = cfg.NATS.ConnectAttempts
	retryCfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		c.logger.Warn("NATS connect failed, retrying", "url", cfg.NATS.URL, "attempt", attempt,
			"of", cfg.NATS.ConnectAttempts, "retry_in", delay, "error", err)
	}
	if err := retry.Do(ctx, retryCfg, func() error { return fabric.Connect(ctx) }); err != nil {
		return errors.Wrap(err, "Controller", "start", "connect "+cfg.NATS.URL)
	}
	c.monitor.Update("nats", health.NewHealthy("nats", "Connected"))

	if cfg.Events.Enabled {
		if err := c.startPublisher(cfg, fabric); err != nil {
			return err
		}
	} else {
		c.monitor.Update("events", health.NewDisabled("events"))
	}

	if cfg.Transport.Enabled || cfg.Transport.AdminEnabled {
		if err := c.startRequests(cfg, fabric); err != nil {
			return err
		}
	} else {
		c.monitor.Update("transport", health.NewDisabled("transport"))
	}
	return nil
}

func (c *Controller) startPublisher(cfg *config.Config, fabric Fabric) error {
	logger := c.logger.With("component", "events")
	pub, err := eventbridge.NewPublisher(eventbridge.Deps{
		Config: eventbridge.Config{
			Subject:      cfg.Events.Address,
			Mask:         event.ParseMask(cfg.Events.Events, logger),
			PollInterval: cfg.Events.PollInterval,
		},
		Sender:          fabric,
		MetricsRegistry: c.registry,
		Logger:          logger,
	})
	if err != nil {
		return errors.Wrap(err, "Controller", "start", "create event publisher")
	}
	if err := pub.Start(); err != nil {
		return errors.Wrap(err, "Controller", "start", "start event publisher")
	}
	c.publisher.Store(pub)
	c.monitor.Track("events", pub)
	return nil
}

func (c *Controller) startRequests(cfg *config.Config, fabric Fabric) error {
	t := cfg.Transport
	requests, err := transport.NewBridge(transport.Deps{
		Config: transport.Config{
			ProtocolTag:  t.ProtocolTag,
			PollInterval: t.PollInterval,
			ReplyTimeout: t.ReplyTimeout,
		},
		Handler:         c.host,
		MetricsRegistry: c.registry,
		Logger:          c.logger.With("component", "transport"),
	})
	if err != nil {
		return errors.Wrap(err, "Controller", "start", "create request bridge")
	}
	if err := requests.Start(); err != nil {
		return errors.Wrap(err, "Controller", "start", "start request bridge")
	}
	c.requests.Store(requests)
	c.monitor.Track("transport", requests)

	endpoints := []struct {
		enabled bool
		role    transport.Role
		address string
	}{
		{t.Enabled, transport.Public, t.Address},
		{t.AdminEnabled, transport.Admin, t.AdminAddress},
	}
	for _, e := range endpoints {
		if !e.enabled {
			continue
		}
		ep, err := fabric.Bind(e.address, t.QueueGroup)
		if err != nil {
			return errors.Wrap(err, "Controller", "start", "bind "+e.role.String()+" endpoint "+e.address)
		}
		if err := requests.Attach(e.role, ep); err != nil {
			_ = ep.Close()
			return errors.Wrap(err, "Controller", "start", "attach "+e.role.String()+" endpoint")
		}
	}
	return nil
}

func (c *Controller) onFabricHealth(healthy bool) {
	if healthy {
		c.monitor.Update("nats", health.NewHealthy("nats", "Connected"))
		return
	}
	c.monitor.Update("nats", health.NewUnhealthy("nats", "Disconnected"))
}

// Shutdown stops the bridges and releases the fabric connection. Every
// worker is signalled before any is joined, so no request reaches the host
// and no event is sent once stopping begins. Then the workers are joined,
// the event queue drained, the endpoints closed and finally the connection,
// all under one deadline. Shutdown of a controller that is not running is a
// no-op, and a stopped controller can be initialized again.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shutdownLocked(ctx)
}

func (c *Controller) shutdownLocked(ctx context.Context) error {
	if !c.lifecycle.BeginStop() {
		return nil
	}
	c.recordState()
	c.logger.Info("Shutting down bridge")

	deadline := time.Now().Add(c.stopTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	pub := c.publisher.Swap(nil)
	requests := c.requests.Swap(nil)

	// Signal phase. The request bridge goes first: its signal never waits,
	// while the publisher's waits out a send already in progress.
	if requests != nil {
		requests.BeginStop()
	}
	if pub != nil {
		pub.BeginStop()
	}

	var errs []error
	if pub != nil {
		if err := pub.FinishStop(time.Until(deadline)); err != nil {
			errs = append(errs, err)
		}
		stats := pub.Stats()
		c.logger.Info("Event publisher released", "published", stats.Published, "dropped", stats.Dropped,
			"drained", stats.Drained)
	}
	if requests != nil {
		if err := requests.FinishStop(time.Until(deadline)); err != nil {
			errs = append(errs, err)
		}
	}
	if c.fabric != nil {
		if err := c.fabric.Close(ctx); err != nil {
			errs = append(errs, errors.Wrap(err, "Controller", "Shutdown", "close fabric"))
		}
		c.fabric = nil
	}

	c.cfg.Store(nil)
	c.monitor.Clear()
	c.lifecycle.Finish()
	c.recordState()
	c.logger.Info("Bridge stopped")
	return stderrors.Join(errs...)
}

func (c *Controller) recordState() {
	if c.registry != nil {
		c.registry.CoreMetrics().RecordBridgeState(c.info.Package, int(c.lifecycle.State()))
	}
}

// OnHostEvent forwards a host event to the publisher. It never blocks and is
// a no-op when events are disabled or the bridge is not running.
func (c *Controller) OnHostEvent(doc event.Document, category event.Category) {
	if pub := c.publisher.Load(); pub != nil {
		pub.OnHostEvent(doc, category)
	}
}

// SendMessage delivers the host's reply for a request session
func (c *Controller) SendMessage(session *transport.Session, admin bool, doc event.Document) error {
	requests := c.requests.Load()
	if requests == nil {
		if doc == nil {
			return errors.WrapInvalid(transport.ErrNilMessage, "Controller", "SendMessage", "message validation")
		}
		return errors.WrapInvalid(transport.ErrStopping, "Controller", "SendMessage", "state check")
	}
	return requests.SendMessage(session, admin, doc)
}

// SessionCreated is forwarded to the request bridge
func (c *Controller) SessionCreated(session *transport.Session, sessionID uint64) {
	if requests := c.requests.Load(); requests != nil {
		requests.SessionCreated(session, sessionID)
	}
}

// SessionOver is forwarded to the request bridge
func (c *Controller) SessionOver(session *transport.Session, sessionID uint64, timeout, claimed bool) {
	if requests := c.requests.Load(); requests != nil {
		requests.SessionOver(session, sessionID, timeout, claimed)
	}
}

// SessionClaimed is forwarded to the request bridge
func (c *Controller) SessionClaimed(session *transport.Session, sessionID uint64) {
	if requests := c.requests.Load(); requests != nil {
		requests.SessionClaimed(session, sessionID)
	}
}

// IsPublicAPIEnabled reports whether the public endpoint is being served
func (c *Controller) IsPublicAPIEnabled() bool {
	requests := c.requests.Load()
	return requests != nil && requests.IsPublicAPIEnabled()
}

// IsAdminAPIEnabled reports whether the admin endpoint is being served
func (c *Controller) IsAdminAPIEnabled() bool {
	requests := c.requests.Load()
	return requests != nil && requests.IsAdminAPIEnabled()
}

// Health aggregates the fabric, publisher and request bridge health
func (c *Controller) Health() health.Status {
	if state := c.lifecycle.State(); state != component.StateRunning {
		return health.NewUnhealthy(c.info.Package, fmt.Sprintf("Bridge %s", state))
	}
	return c.monitor.AggregateHealth(c.info.Package)
}
