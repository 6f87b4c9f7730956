package eventbridge

import (
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/rtcbridge/component"
	"github.com/c360/rtcbridge/errors"
	"github.com/c360/rtcbridge/event"
	"github.com/c360/rtcbridge/metric"
	"github.com/c360/rtcbridge/natsclient"
	"github.com/c360/rtcbridge/pkg/buffer"
)

// Sender transmits one serialized event without waiting. It returns
// natsclient.ErrWouldBlock when the fabric cannot take more data right now.
type Sender interface {
	TryPublish(subject string, data []byte) error
}

var _ Sender = (*natsclient.Client)(nil)

// Config holds publisher settings
type Config struct {
	Subject       string
	Mask          event.Mask
	PollInterval  time.Duration
	QueueCapacity int
}

// DefaultConfig returns the publisher defaults
func DefaultConfig() Config {
	return Config{
		Subject:       "rtc.events",
		Mask:          event.MaskAll,
		PollInterval:  time.Second,
		QueueCapacity: 256,
	}
}

// Deps holds runtime dependencies for the publisher
type Deps struct {
	Config          Config
	Sender          Sender
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// Stats is a snapshot of publisher counters
type Stats struct {
	Received  int64 `json:"received"`
	Filtered  int64 `json:"filtered"`
	Published int64 `json:"published"`
	Dropped   int64 `json:"dropped"`
	Drained   int64 `json:"drained"`
	Queued    int   `json:"queued"`
}

// Publisher republishes host events on a broadcast subject. Host threads call
// OnHostEvent; one worker goroutine serializes and sends in FIFO order.
type Publisher struct {
	cfg      Config
	sender   Sender
	logger   *slog.Logger
	registry *metric.MetricsRegistry

	lifecycle component.Lifecycle
	mu        sync.Mutex   // serializes Start and Stop
	sendMu    sync.RWMutex // held shared around TryPublish; BeginStop waits it out
	queue     atomic.Pointer[buffer.Buffer[*event.Record]]
	wg        sync.WaitGroup
	startTime time.Time

	received  atomic.Int64
	filtered  atomic.Int64
	published atomic.Int64
	dropped   atomic.Int64
	drained   atomic.Int64
	errCount  atomic.Int64
	lastError atomic.Value // string

	metrics atomic.Pointer[Metrics]
}

var _ component.LifecycleComponent = (*Publisher)(nil)

// NewPublisher validates deps and returns a stopped publisher
func NewPublisher(deps Deps) (*Publisher, error) {
	cfg := deps.Config
	if deps.Sender == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("nil sender"), "Publisher", "NewPublisher", "sender validation")
	}
	if cfg.Subject == "" {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: empty subject", errors.ErrInvalidConfig),
			"Publisher", "NewPublisher", "subject validation")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = DefaultConfig().QueueCapacity
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "event-publisher")
	}

	p := &Publisher{
		cfg:      cfg,
		sender:   deps.Sender,
		logger:   logger,
		registry: deps.MetricsRegistry,
	}
	p.lastError.Store("")
	return p, nil
}

// Meta returns the component metadata
func (p *Publisher) Meta() component.Metadata {
	return component.Metadata{
		Name:        "events",
		Type:        "publisher",
		Description: fmt.Sprintf("Event publisher on %s (events: %s)", p.cfg.Subject, p.cfg.Mask),
		Subjects:    []string{p.cfg.Subject},
	}
}

// Config returns the publisher configuration
func (p *Publisher) Config() Config {
	return p.cfg
}

// State returns the lifecycle state
func (p *Publisher) State() component.State {
	return p.lifecycle.State()
}

// Start creates the queue and starts the worker
func (p *Publisher) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.lifecycle.State() == component.StateRunning {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Publisher", "Start", "start worker")
	}

	metrics, err := newMetrics(p.registry)
	if err != nil {
		return errors.WrapFatal(err, "Publisher", "Start", "register metrics")
	}

	opts := []buffer.Option[*event.Record]{
		buffer.WithOverflowPolicy[*event.Record](buffer.Grow),
		buffer.WithDropCallback[*event.Record](p.release),
	}
	if p.registry != nil {
		opts = append(opts, buffer.WithMetrics[*event.Record](p.registry, "event_queue"))
	}
	queue, err := buffer.NewCircularBuffer[*event.Record](p.cfg.QueueCapacity, opts...)
	if err != nil {
		if p.registry != nil {
			p.registry.UnregisterService(metricsService)
		}
		return errors.WrapFatal(err, "Publisher", "Start", "create queue")
	}

	p.queue.Store(&queue)
	p.metrics.Store(metrics)
	p.startTime = time.Now()

	if !p.lifecycle.Start() {
		_ = queue.Close()
		return errors.WrapInvalid(errors.ErrShuttingDown, "Publisher", "Start", "start worker")
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(queue)
	}()

	p.logger.Info("Event publisher started", "subject", p.cfg.Subject, "events", p.cfg.Mask.String())
	return nil
}

// OnHostEvent accepts an event from the host. It never blocks and never
// fails: events are ignored while the publisher is not running, filtered by
// category before queueing, and silently dropped if the queue is closed.
func (p *Publisher) OnHostEvent(payload event.Document, category event.Category) {
	if payload == nil || !p.lifecycle.IsRunning() {
		return
	}

	metrics := p.metrics.Load()
	p.received.Add(1)
	if metrics != nil {
		metrics.received.Inc()
	}

	if !p.cfg.Mask.Allows(category) {
		p.filtered.Add(1)
		if metrics != nil {
			metrics.filtered.Inc()
		}
		return
	}

	queue := p.currentQueue()
	if queue == nil {
		return
	}
	if err := queue.Write(&event.Record{Payload: payload, Category: category}); err != nil {
		return
	}
	if metrics != nil {
		metrics.queueDepth.Set(float64(queue.Size()))
	}
}

func (p *Publisher) currentQueue() buffer.Buffer[*event.Record] {
	if q := p.queue.Load(); q != nil {
		return *q
	}
	return nil
}

// run is the worker loop. The timed read only bounds how long a stop takes
// to be noticed.
func (p *Publisher) run(queue buffer.Buffer[*event.Record]) {
	// The queue identifies this run; after a restart it is replaced.
	for p.lifecycle.IsRunning() && p.currentQueue() == queue {
		rec, ok := queue.ReadWithTimeout(p.cfg.PollInterval)
		if !ok {
			continue
		}
		if metrics := p.metrics.Load(); metrics != nil {
			metrics.queueDepth.Set(float64(queue.Size()))
		}

		if !p.lifecycle.IsRunning() {
			// Dequeued after stop was requested: release, never send.
			p.release(rec)
			return
		}
		p.publish(rec)
	}
}

func (p *Publisher) publish(rec *event.Record) {
	data, err := event.Encode(rec.Payload)
	if err != nil {
		p.logger.Error("Failed to serialize event, dropping", "category", rec.Category.String(), "error", err)
		p.drop(ReasonEncodeError, err)
		return
	}

	p.sendMu.RLock()
	defer p.sendMu.RUnlock()
	if !p.lifecycle.IsRunning() {
		p.release(rec)
		return
	}

	err = p.sender.TryPublish(p.cfg.Subject, data)
	switch {
	case err == nil:
		p.published.Add(1)
		if metrics := p.metrics.Load(); metrics != nil {
			metrics.published.Inc()
		}
	case stderrors.Is(err, natsclient.ErrWouldBlock):
		p.logger.Warn("Publish buffer full, dropping event",
			"subject", p.cfg.Subject, "category", rec.Category.String(), "bytes", len(data))
		p.drop(ReasonBackpressure, nil)
	default:
		p.logger.Error("Failed to publish event, dropping",
			"subject", p.cfg.Subject, "category", rec.Category.String(), "error", err)
		p.drop(ReasonSendError, err)
	}
}

func (p *Publisher) drop(reason string, err error) {
	p.dropped.Add(1)
	if metrics := p.metrics.Load(); metrics != nil {
		metrics.dropped.WithLabelValues(reason).Inc()
	}
	if err != nil {
		p.errCount.Add(1)
		p.lastError.Store(err.Error())
	}
}

// release is the queue drop callback: records cleared on shutdown end here.
func (p *Publisher) release(rec *event.Record) {
	p.drained.Add(1)
	if metrics := p.metrics.Load(); metrics != nil {
		metrics.drained.Inc()
	}
	rec.Payload = nil
}

// Stop signals the worker and then finishes the stop. See BeginStop and
// FinishStop.
func (p *Publisher) Stop(timeout time.Duration) error {
	p.BeginStop()
	return p.FinishStop(timeout)
}

// BeginStop moves the publisher to stopping and reports whether this call
// performed the transition. The state flips at once; BeginStop then waits
// for a TryPublish already in progress, so once it returns no record is
// transmitted any more.
func (p *Publisher) BeginStop() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	began := p.lifecycle.BeginStop()
	// Wait out a send that checked the state before the flip.
	p.sendMu.Lock()
	defer p.sendMu.Unlock()
	return began
}

// FinishStop joins the worker, then releases every record still queued
// without publishing it. It is a no-op unless BeginStop was called. The join
// is bounded by the poll interval; timeout caps the wait.
func (p *Publisher) FinishStop(timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.lifecycle.State() != component.StateStopping {
		return nil
	}

	var joinErr error
	if !component.Join(&p.wg, timeout) {
		joinErr = errors.WrapTransient(fmt.Errorf("worker did not exit within %v", timeout),
			"Publisher", "FinishStop", "join worker")
		p.logger.Warn("Event worker still running after stop timeout", "timeout", timeout)
	}

	// Close before Clear so a concurrent OnHostEvent cannot slip a record
	// in after the drain.
	var drained int
	if queue := p.currentQueue(); queue != nil {
		_ = queue.Close()
		drained = queue.Clear()
		p.queue.Store(nil)
	}
	if p.registry != nil {
		p.registry.UnregisterService(metricsService)
	}
	p.metrics.Store(nil)

	p.lifecycle.Finish()
	p.logger.Info("Event publisher stopped", "drained", drained, "published", p.published.Load(),
		"dropped", p.dropped.Load())
	return joinErr
}

// Stats returns a snapshot of the publisher counters
func (p *Publisher) Stats() Stats {
	s := Stats{
		Received:  p.received.Load(),
		Filtered:  p.filtered.Load(),
		Published: p.published.Load(),
		Dropped:   p.dropped.Load(),
		Drained:   p.drained.Load(),
	}
	if queue := p.currentQueue(); queue != nil {
		s.Queued = queue.Size()
	}
	return s
}

// Health returns the current health status
func (p *Publisher) Health() component.HealthStatus {
	running := p.lifecycle.IsRunning()
	var uptime time.Duration
	if running {
		uptime = time.Since(p.startTime)
	}
	return component.HealthStatus{
		Healthy:    running,
		LastCheck:  time.Now(),
		ErrorCount: int(p.errCount.Load()),
		LastError:  p.lastError.Load().(string),
		Uptime:     uptime,
	}
}
