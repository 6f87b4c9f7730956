package natsclient

import (
	"context"
	"fmt"
	"testing"
	"time"

	gonats "github.com/nats-io/nats.go"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const defaultNATSImage = "nats:2.11.7-alpine"

// TestClient is a connected Client backed by a throwaway NATS container
type TestClient struct {
	Client *Client
	URL    string
}

type testConfig struct {
	image        string
	dialTimeout  time.Duration
	startTimeout time.Duration
	clientOpts   []ClientOption
}

// TestOption configures NewTestClient
type TestOption func(*testConfig)

// WithNATSVersion selects the nats image tag
func WithNATSVersion(tag string) TestOption {
	return func(cfg *testConfig) { cfg.image = "nats:" + tag }
}

// WithFastStartup shortens the dial and container startup timeouts
func WithFastStartup() TestOption {
	return func(cfg *testConfig) {
		cfg.dialTimeout = 2 * time.Second
		cfg.startTimeout = 10 * time.Second
	}
}

// WithClientOptions passes extra options to the Client under test
func WithClientOptions(opts ...ClientOption) TestOption {
	return func(cfg *testConfig) { cfg.clientOpts = append(cfg.clientOpts, opts...) }
}

// NewTestClient starts a NATS container and connects a Client to it. Both are
// released when the test ends.
func NewTestClient(t testing.TB, opts ...TestOption) *TestClient {
	t.Helper()

	cfg := &testConfig{
		image:        defaultNATSImage,
		dialTimeout:  5 * time.Second,
		startTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	ctx := context.Background()
	url, err := startNATSContainer(ctx, t, cfg)
	if err != nil {
		t.Fatalf("Failed to start NATS container: %v", err)
	}

	client, err := NewClient(url, append([]ClientOption{
		WithTimeout(cfg.dialTimeout),
		WithMaxReconnects(0),
		WithHealthInterval(0),
	}, cfg.clientOpts...)...)
	if err != nil {
		t.Fatalf("Failed to create NATS client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close(context.Background()) })

	dialCtx, cancel := context.WithTimeout(ctx, cfg.dialTimeout)
	defer cancel()
	if err := client.Connect(dialCtx); err != nil {
		t.Fatalf("Failed to connect to NATS: %v", err)
	}
	if err := client.WaitForConnection(dialCtx); err != nil {
		t.Fatalf("NATS connection not ready: %v", err)
	}

	return &TestClient{Client: client, URL: url}
}

func startNATSContainer(ctx context.Context, t testing.TB, cfg *testConfig) (string, error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        cfg.image,
			ExposedPorts: []string{"4222/tcp", "8222/tcp"},
			Cmd:          []string{"--port", "4222", "--http_port", "8222"},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("4222/tcp"),
				wait.ForHTTP("/").WithPort("8222/tcp").WithStartupTimeout(cfg.startTimeout),
			),
		},
		Started: true,
	})
	if err != nil {
		return "", err
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	if err != nil {
		return "", fmt.Errorf("container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "4222")
	if err != nil {
		return "", fmt.Errorf("mapped port: %w", err)
	}
	return fmt.Sprintf("nats://%s:%s", host, port.Port()), nil
}

// IsReady reports whether the client is connected
func (tc *TestClient) IsReady() bool {
	return tc.Client.IsHealthy()
}

// NewPeer opens a second, plain connection to the test server. Tests use it
// as the remote requester or subscriber.
func (tc *TestClient) NewPeer(t testing.TB) *gonats.Conn {
	t.Helper()

	nc, err := gonats.Connect(tc.URL, gonats.Timeout(5*time.Second))
	if err != nil {
		t.Fatalf("Failed to connect peer: %v", err)
	}
	t.Cleanup(nc.Close)
	return nc
}
