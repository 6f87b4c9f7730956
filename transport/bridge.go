package transport

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/rtcbridge/component"
	"github.com/c360/rtcbridge/errors"
	"github.com/c360/rtcbridge/event"
	"github.com/c360/rtcbridge/metric"
	"github.com/c360/rtcbridge/natsclient"
)

// CodeInvalidJSON is the error code sent back for a request that is not a
// JSON object.
const CodeInvalidJSON = 498

var (
	// ErrNilMessage is returned by SendMessage for a nil reply document
	ErrNilMessage = stderrors.New("nil message")
	// ErrStopping is returned by SendMessage once the bridge is not running
	ErrStopping = stderrors.New("request bridge is stopping")
	// ErrInvalidSession is returned for a nil session or one from another bridge
	ErrInvalidSession = stderrors.New("invalid transport session")
	// ErrAlreadyReplied is returned for a second reply on the same session
	ErrAlreadyReplied = stderrors.New("session already replied")
	// ErrSessionExpired is returned for a reply after the worker gave up waiting
	ErrSessionExpired = stderrors.New("session expired before reply")
	// ErrEndpointBound is returned by Attach when the role already has an endpoint
	ErrEndpointBound = stderrors.New("endpoint already attached for role")
)

// RequestHandler is the host entry point for parsed requests. The host must
// eventually answer through SendMessage with the same session, from any
// goroutine, including from inside IncomingRequest.
type RequestHandler interface {
	IncomingRequest(session *Session, admin bool, doc event.Document)
}

// Config holds request bridge settings
type Config struct {
	ProtocolTag  string
	PollInterval time.Duration
	ReplyTimeout time.Duration
}

// DefaultConfig returns the request bridge defaults
func DefaultConfig() Config {
	return Config{
		ProtocolTag:  "janus",
		PollInterval: time.Second,
		ReplyTimeout: 30 * time.Second,
	}
}

// Deps holds runtime dependencies for the request bridge
type Deps struct {
	Config          Config
	Handler         RequestHandler
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// Stats is a snapshot of request bridge counters across both roles
type Stats struct {
	Received    int64 `json:"received"`
	Invalid     int64 `json:"invalid"`
	Replied     int64 `json:"replied"`
	ReplyErrors int64 `json:"reply_errors"`
	Abandoned   int64 `json:"abandoned"`
}

// Bridge serves the public and admin responder endpoints. Each attached
// endpoint gets one worker that receives a request, hands it to the host and
// waits for the reply before receiving again.
type Bridge struct {
	cfg        Config
	handler    RequestHandler
	logger     *slog.Logger
	registry   *metric.MetricsRegistry
	errorReply []byte

	lifecycle component.Lifecycle
	mu        sync.RWMutex // guards endpoints, stop and start/stop transitions
	endpoints [2]*endpoint
	stop      chan struct{}
	wg        sync.WaitGroup
	startTime time.Time

	received    atomic.Int64
	invalid     atomic.Int64
	replied     atomic.Int64
	replyErrors atomic.Int64
	abandoned   atomic.Int64
	errCount    atomic.Int64
	lastError   atomic.Value // string

	metrics atomic.Pointer[Metrics]
}

var _ component.LifecycleComponent = (*Bridge)(nil)

// NewBridge validates deps and returns a stopped bridge
func NewBridge(deps Deps) (*Bridge, error) {
	if deps.Handler == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("nil request handler"), "Bridge", "NewBridge", "handler validation")
	}

	cfg := deps.Config
	defaults := DefaultConfig()
	if cfg.ProtocolTag == "" {
		cfg.ProtocolTag = defaults.ProtocolTag
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = defaults.ReplyTimeout
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "request-bridge")
	}

	b := &Bridge{
		cfg:        cfg,
		handler:    deps.Handler,
		logger:     logger,
		registry:   deps.MetricsRegistry,
		errorReply: InvalidJSONReply(cfg.ProtocolTag),
	}
	b.lastError.Store("")
	return b, nil
}

// InvalidJSONReply builds the fixed error frame sent for unparseable
// requests. Key order is part of the wire contract.
func InvalidJSONReply(tag string) []byte {
	key, _ := json.Marshal(tag)
	return []byte(fmt.Sprintf(`{%s:"error","error":{"code":%d,"reason":"Invalid JSON"}}`, key, CodeInvalidJSON))
}

// Meta returns the component metadata
func (b *Bridge) Meta() component.Metadata {
	meta := component.Metadata{
		Name:        "transport",
		Type:        "transport",
		Description: "Request/reply bridge for the public and admin APIs",
	}
	for _, role := range []Role{Public, Admin} {
		if addr := b.Address(role); addr != "" {
			meta.Subjects = append(meta.Subjects, addr)
		}
	}
	return meta
}

// Config returns the bridge configuration
func (b *Bridge) Config() Config {
	return b.cfg
}

// State returns the lifecycle state
func (b *Bridge) State() component.State {
	return b.lifecycle.State()
}

// Start moves the bridge to running. Endpoints are attached afterwards, one
// per enabled role.
func (b *Bridge) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.lifecycle.State() == component.StateRunning {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Bridge", "Start", "start bridge")
	}

	metrics, err := newMetrics(b.registry)
	if err != nil {
		return errors.WrapFatal(err, "Bridge", "Start", "register metrics")
	}
	b.metrics.Store(metrics)
	b.stop = make(chan struct{})
	b.endpoints = [2]*endpoint{}
	b.startTime = time.Now()

	if !b.lifecycle.Start() {
		return errors.WrapInvalid(errors.ErrShuttingDown, "Bridge", "Start", "start bridge")
	}
	return nil
}

// Attach hands a bound endpoint to the bridge and starts its worker. The
// bridge owns the endpoint from here on and closes it on Stop.
func (b *Bridge) Attach(role Role, socket Endpoint) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.lifecycle.IsRunning() {
		return errors.WrapInvalid(ErrStopping, "Bridge", "Attach", "attach "+role.String())
	}
	if role != Public && role != Admin {
		return errors.WrapInvalid(fmt.Errorf("unknown role %d", role), "Bridge", "Attach", "role validation")
	}
	if b.endpoints[role] != nil {
		return errors.WrapInvalid(ErrEndpointBound, "Bridge", "Attach", "attach "+role.String())
	}

	ep := &endpoint{role: role, socket: socket}
	b.endpoints[role] = ep

	stop := b.stop
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.serve(ep, stop)
	}()

	b.logger.Info("Request endpoint attached", "role", role.String(), "address", socket.Address())
	return nil
}

// IsPublicAPIEnabled reports whether a public endpoint is being served
func (b *Bridge) IsPublicAPIEnabled() bool {
	return b.hasEndpoint(Public)
}

// IsAdminAPIEnabled reports whether an admin endpoint is being served
func (b *Bridge) IsAdminAPIEnabled() bool {
	return b.hasEndpoint(Admin)
}

func (b *Bridge) hasEndpoint(role Role) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lifecycle.IsRunning() && b.endpoints[role] != nil
}

// Address returns the address served for role, or "" if none
func (b *Bridge) Address(role Role) string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if role != Public && role != Admin || b.endpoints[role] == nil {
		return ""
	}
	return b.endpoints[role].socket.Address()
}

// serve is the per-endpoint worker loop
func (b *Bridge) serve(ep *endpoint, stop <-chan struct{}) {
	role := ep.role.String()
	b.logger.Debug("Request worker started", "role", role)
	defer func() {
		if ep.workerExited() {
			if err := ep.socket.Close(); err != nil {
				b.logger.Error("Failed to close endpoint", "role", role, "error", err)
			}
		}
		b.logger.Debug("Request worker exited", "role", role)
	}()

	for !stopped(stop) {
		frame, err := ep.socket.Receive(b.cfg.PollInterval)
		if err == nil && stopped(stop) {
			// Received after the stop signal: never handed to the host.
			b.logger.Debug("Discarding request received while stopping", "role", role)
			return
		}
		if err != nil {
			if stderrors.Is(err, natsclient.ErrReceiveTimeout) || stderrors.Is(err, natsclient.ErrInterrupted) {
				continue
			}
			if stopped(stop) {
				return
			}
			b.recordError(err)
			b.observe(ep.role, func(m *Metrics) *prometheus.CounterVec { return m.receiveErrors })
			b.logger.Error("Failed to receive request", "role", role, "error", err)

			if stderrors.Is(err, natsclient.ErrResponderClosed) {
				// A closed endpoint fails immediately; pace the loop so it
				// does not spin until shutdown.
				select {
				case <-stop:
					return
				case <-time.After(b.cfg.PollInterval):
				}
			}
			continue
		}

		b.handle(ep, frame, stop)
	}
}

// stopped reports whether the worker generation owning stop was told to stop.
// A restarted bridge has a fresh channel, so a worker left over from the
// previous run never serves again.
func stopped(stop <-chan struct{}) bool {
	select {
	case <-stop:
		return true
	default:
		return false
	}
}

// handle processes one request and returns once it has been answered, the
// reply timed out, or the bridge is stopping.
func (b *Bridge) handle(ep *endpoint, frame *Frame, stop <-chan struct{}) {
	b.received.Add(1)
	b.observe(ep.role, func(m *Metrics) *prometheus.CounterVec { return m.received })

	doc, err := event.Decode(frame.Data)
	if err != nil {
		b.invalid.Add(1)
		b.observe(ep.role, func(m *Metrics) *prometheus.CounterVec { return m.invalid })
		b.logger.Warn("Invalid request, sending error reply", "role", ep.role.String(),
			"bytes", len(frame.Data), "error", err)

		if err := ep.socket.Reply(frame, b.errorReply); err != nil {
			b.replyFailed(ep.role, err)
		} else {
			b.observe(ep.role, func(m *Metrics) *prometheus.CounterVec { return m.replies })
		}
		return
	}

	session := newSession(b, ep, frame)
	b.logger.Debug("Dispatching request", "role", ep.role.String(), "session", session.ID)

	if err := b.dispatch(session, doc); err != nil {
		b.recordError(err)
		b.logger.Error("Host failed to accept request", "role", ep.role.String(),
			"session", session.ID, "error", err)
		if session.abandon() {
			b.abandon(ep.role)
			return
		}
	}

	timer := time.NewTimer(b.cfg.ReplyTimeout)
	defer timer.Stop()

	select {
	case <-session.done:
	case <-stop:
		if !session.abandon() {
			// SendMessage claimed the session first; let its reply finish
			// before Stop may close the endpoint.
			<-session.done
		}
	case <-timer.C:
		if session.abandon() {
			b.abandon(ep.role)
			b.logger.Warn("No reply from host, abandoning request", "role", ep.role.String(),
				"session", session.ID, "timeout", b.cfg.ReplyTimeout)
			return
		}
		// Lost the race with SendMessage: the reply is being sent.
		<-session.done
	}
}

// dispatch hands the request to the host. A panicking host must not take
// the worker down with it.
func (b *Bridge) dispatch(session *Session, doc event.Document) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("request handler panic: %v", r)
		}
	}()
	b.handler.IncomingRequest(session, session.Admin, doc)
	return nil
}

func (b *Bridge) abandon(role Role) {
	b.abandoned.Add(1)
	b.observe(role, func(m *Metrics) *prometheus.CounterVec { return m.abandoned })
}

// SendMessage transmits the host's reply for session. It blocks until the
// reply was written and flushed, or the send failed; the session is
// consumed either way.
func (b *Bridge) SendMessage(session *Session, admin bool, msg event.Document) error {
	if msg == nil {
		return errors.WrapInvalid(ErrNilMessage, "Bridge", "SendMessage", "message validation")
	}
	if !b.lifecycle.IsRunning() {
		return errors.WrapInvalid(ErrStopping, "Bridge", "SendMessage", "state check")
	}
	if session == nil || session.bridge != b {
		return errors.WrapInvalid(ErrInvalidSession, "Bridge", "SendMessage", "session validation")
	}

	if admin != session.Admin {
		b.logger.Warn("Reply role does not match session, using session endpoint",
			"session", session.ID, "admin", admin, "role", session.Role.String())
	}

	switch session.claim() {
	case sessionReplied:
		return errors.WrapInvalid(ErrAlreadyReplied, "Bridge", "SendMessage", "claim session")
	case sessionAbandoned:
		return errors.WrapInvalid(ErrSessionExpired, "Bridge", "SendMessage", "claim session")
	}
	defer close(session.done)

	data, err := event.Encode(msg)
	if err != nil {
		b.replyFailed(session.Role, err)
		return err
	}

	if err := session.ep.socket.Reply(session.frame, data); err != nil {
		b.replyFailed(session.Role, err)
		return errors.WrapTransient(err, "Bridge", "SendMessage", "send reply")
	}

	b.replied.Add(1)
	b.observe(session.Role, func(m *Metrics) *prometheus.CounterVec { return m.replies })
	b.logger.Debug("Reply sent", "role", session.Role.String(), "session", session.ID, "bytes", len(data))
	return nil
}

func (b *Bridge) replyFailed(role Role, err error) {
	b.replyErrors.Add(1)
	b.recordError(err)
	b.observe(role, func(m *Metrics) *prometheus.CounterVec { return m.replyErrors })
	b.logger.Error("Failed to send reply", "role", role.String(), "error", err)
}

func (b *Bridge) recordError(err error) {
	b.errCount.Add(1)
	b.lastError.Store(err.Error())
}

func (b *Bridge) observe(role Role, pick func(*Metrics) *prometheus.CounterVec) {
	if m := b.metrics.Load(); m != nil {
		pick(m).WithLabelValues(role.String()).Inc()
	}
}

// SessionCreated is called by the host when it creates a session bound to a
// transport session.
func (b *Bridge) SessionCreated(session *Session, sessionID uint64) {
	b.logger.Debug("Session created", "session_id", sessionID, "transport", sessionRef(session))
}

// SessionOver is called by the host when a session ends
func (b *Bridge) SessionOver(session *Session, sessionID uint64, timeout, claimed bool) {
	b.logger.Debug("Session over", "session_id", sessionID, "transport", sessionRef(session),
		"timeout", timeout, "claimed", claimed)
}

// SessionClaimed is called by the host when another transport claims a session
func (b *Bridge) SessionClaimed(session *Session, sessionID uint64) {
	b.logger.Debug("Session claimed", "session_id", sessionID, "transport", sessionRef(session))
}

func sessionRef(s *Session) string {
	if s == nil {
		return ""
	}
	return s.ID
}

// Stop signals the workers and then finishes the stop. See BeginStop and
// FinishStop.
func (b *Bridge) Stop(timeout time.Duration) error {
	b.BeginStop()
	return b.FinishStop(timeout)
}

// BeginStop moves the bridge to stopping and wakes workers waiting for a
// reply. It does not wait: workers notice within one poll interval and no
// request received from here on reaches the host. It reports whether this
// call performed the transition.
func (b *Bridge) BeginStop() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.lifecycle.BeginStop() {
		return false
	}
	close(b.stop)
	return true
}

// FinishStop joins the workers and closes the endpoints in reverse attach
// order. It is a no-op unless BeginStop was called. An endpoint whose worker
// is still running when timeout expires is closed by that worker as it exits.
func (b *Bridge) FinishStop(timeout time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.lifecycle.State() != component.StateStopping {
		return nil
	}

	var errs []error
	if !component.Join(&b.wg, timeout) {
		errs = append(errs, errors.WrapTransient(fmt.Errorf("workers did not exit within %v", timeout),
			"Bridge", "FinishStop", "join workers"))
		b.logger.Warn("Request workers still running after stop timeout", "timeout", timeout)
	}

	for _, role := range []Role{Admin, Public} {
		ep := b.endpoints[role]
		if ep == nil {
			continue
		}
		b.endpoints[role] = nil
		if !ep.release() {
			continue
		}
		if err := ep.socket.Close(); err != nil {
			errs = append(errs, errors.Wrap(err, "Bridge", "FinishStop", "close "+role.String()+" endpoint"))
		}
	}

	if b.registry != nil {
		b.registry.UnregisterService(metricsService)
	}
	b.metrics.Store(nil)

	b.lifecycle.Finish()
	b.logger.Info("Request bridge stopped", "received", b.received.Load(), "replied", b.replied.Load(),
		"abandoned", b.abandoned.Load())
	return stderrors.Join(errs...)
}

// Stats returns a snapshot of the bridge counters
func (b *Bridge) Stats() Stats {
	return Stats{
		Received:    b.received.Load(),
		Invalid:     b.invalid.Load(),
		Replied:     b.replied.Load(),
		ReplyErrors: b.replyErrors.Load(),
		Abandoned:   b.abandoned.Load(),
	}
}

// Health returns the current health status
func (b *Bridge) Health() component.HealthStatus {
	running := b.lifecycle.IsRunning()
	var uptime time.Duration
	if running {
		uptime = time.Since(b.startTime)
	}
	return component.HealthStatus{
		Healthy:    running,
		LastCheck:  time.Now(),
		ErrorCount: int(b.errCount.Load()),
		LastError:  b.lastError.Load().(string),
		Uptime:     uptime,
	}
}
