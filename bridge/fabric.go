package bridge

import (
	"context"
	"log/slog"

	"github.com/c360/rtcbridge/config"
	"github.com/c360/rtcbridge/eventbridge"
	"github.com/c360/rtcbridge/metric"
	"github.com/c360/rtcbridge/natsclient"
	"github.com/c360/rtcbridge/transport"
)

// Fabric is the shared connection every bridge role runs on. It is created
// and connected first, and closed last.
type Fabric interface {
	eventbridge.Sender

	Connect(ctx context.Context) error
	// Bind creates a responder endpoint on subject. A non-empty queue
	// group spreads requests across bridge processes.
	Bind(subject, queue string) (transport.Endpoint, error)
	Close(ctx context.Context) error
}

// FabricDeps carries what a FabricFactory may wire into the connection
type FabricDeps struct {
	Logger          *slog.Logger
	MetricsRegistry *metric.MetricsRegistry
	OnHealthChange  func(healthy bool)
}

// FabricFactory builds an unconnected fabric from the loaded configuration
type FabricFactory func(cfg *config.Config, deps FabricDeps) (Fabric, error)

// natsFabric is the Fabric backed by natsclient
type natsFabric struct {
	*natsclient.Client
}

var _ Fabric = (*natsFabric)(nil)

// NewNATSFabric is the default FabricFactory. Closing never drains: frames
// still buffered at shutdown are discarded.
func NewNATSFabric(cfg *config.Config, deps FabricDeps) (Fabric, error) {
	opts := []natsclient.ClientOption{
		natsclient.WithName(cfg.NATS.Name),
		natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
		natsclient.WithReconnectWait(cfg.NATS.ReconnectWait),
		natsclient.WithTimeout(cfg.NATS.ConnectTimeout),
		natsclient.WithHighWaterMark(cfg.Events.HighWaterMark),
		natsclient.WithFlushTimeout(cfg.Transport.FlushTimeout),
		natsclient.WithDrainTimeout(0),
		natsclient.WithLogger(deps.Logger),
		natsclient.WithMetrics(deps.MetricsRegistry),
		natsclient.WithAuth(natsclient.Auth{
			Username: cfg.NATS.Username,
			Password: cfg.NATS.Password,
			Token:    cfg.NATS.Token,
		}),
		natsclient.WithCallbacks(natsclient.Callbacks{OnHealthChange: deps.OnHealthChange}),
	}
	if tls := cfg.NATS.TLS; tls.Enabled() {
		opts = append(opts, natsclient.WithTLS(tls.CertFile, tls.KeyFile, tls.CAFile))
	}

	client, err := natsclient.NewClient(cfg.NATS.URL, opts...)
	if err != nil {
		return nil, err
	}
	return &natsFabric{Client: client}, nil
}

// Bind subscribes a responder and wraps it as a transport endpoint
func (f *natsFabric) Bind(subject, queue string) (transport.Endpoint, error) {
	responder, err := f.BindResponder(subject, queue)
	if err != nil {
		return nil, err
	}
	return transport.NewNATSEndpoint(responder), nil
}
