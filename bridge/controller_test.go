package bridge

import (
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/rtcbridge/component"
	"github.com/c360/rtcbridge/config"
	"github.com/c360/rtcbridge/errors"
	"github.com/c360/rtcbridge/event"
	"github.com/c360/rtcbridge/health"
	"github.com/c360/rtcbridge/metric"
	"github.com/c360/rtcbridge/pkg/retry"
	"github.com/c360/rtcbridge/transport"
)

const fullConfig = `{
  "nats": {"url": "nats://127.0.0.1:4222", "connect_attempts": 3},
  "events": {"enabled": true, "address": "rtc.events", "events": "sessions,core", "poll_interval": "10ms"},
  "transport": {
    "enabled": true,
    "admin_enabled": true,
    "poll_interval": "10ms",
    "reply_timeout": "2s"
  }
}`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.JSONFile), []byte(body), 0o600))
	return dir
}

func newTestController(t *testing.T, host Host, fabric *fakeFabric, opts ...Option) *Controller {
	t.Helper()
	base := []Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithFabricFactory(fabric.factory()),
		WithLoader(config.NewLoader().WithEnvPrefix("RTCBRIDGE_TEST")),
		WithConnectRetry(retry.Config{InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}),
		WithStopTimeout(2 * time.Second),
	}
	ctrl := NewController(host, append(base, opts...)...)
	t.Cleanup(func() { _ = ctrl.Shutdown(context.Background()) })
	return ctrl
}

func TestController_InitWithoutConfigBindsNothing(t *testing.T) {
	fabric := newFakeFabric()
	ctrl := newTestController(t, newTestHost(), fabric)

	require.NoError(t, ctrl.Init(context.Background(), t.TempDir()))
	assert.Equal(t, component.StateRunning, ctrl.State())
	assert.Zero(t, fabric.Connects(), "no bridge enabled, no connection")
	assert.False(t, ctrl.IsPublicAPIEnabled())
	assert.False(t, ctrl.IsAdminAPIEnabled())

	// Events and replies are no-ops rather than errors or panics.
	ctrl.OnHostEvent(event.Document{"type": 1}, event.Session)
	err := ctrl.SendMessage(nil, false, event.Document{"janus": "ack"})
	assert.ErrorIs(t, err, transport.ErrStopping)

	status := ctrl.Health()
	assert.True(t, status.Healthy)
	assert.Equal(t, health.StatusHealthy, status.Status)

	require.NoError(t, ctrl.Shutdown(context.Background()))
	assert.Equal(t, component.StateStopped, ctrl.State())
}

func TestController_InitValidation(t *testing.T) {
	ctrl := NewController(nil)
	err := ctrl.Init(context.Background(), t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNilHost)
	assert.True(t, errors.IsFatal(err))
	assert.Equal(t, component.StateUninitialized, ctrl.State())

	fabric := newFakeFabric()
	ctrl = newTestController(t, newTestHost(), fabric)
	err = ctrl.Init(context.Background(), writeConfig(t, `{"events": {"enabled": "yes"}}`))
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
	assert.Equal(t, component.StateUninitialized, ctrl.State())
}

func TestController_InitTwice(t *testing.T) {
	fabric := newFakeFabric()
	ctrl := newTestController(t, newTestHost(), fabric)
	dir := writeConfig(t, fullConfig)

	require.NoError(t, ctrl.Init(context.Background(), dir))
	err := ctrl.Init(context.Background(), dir)
	assert.ErrorIs(t, err, errors.ErrAlreadyStarted)
	assert.Equal(t, 1, fabric.Connects())
}

func TestController_BindOrder(t *testing.T) {
	fabric := newFakeFabric()
	ctrl := newTestController(t, newTestHost(), fabric)

	require.NoError(t, ctrl.Init(context.Background(), writeConfig(t, fullConfig)))
	assert.Equal(t, []string{"rtc.api", "rtc.admin"}, fabric.bindOrder)
	assert.True(t, ctrl.IsPublicAPIEnabled())
	assert.True(t, ctrl.IsAdminAPIEnabled())
	assert.NotNil(t, fabric.deps.OnHealthChange)
	assert.Equal(t, 3, fabric.cfg.NATS.ConnectAttempts)
}

func TestController_FilteredEvents(t *testing.T) {
	fabric := newFakeFabric()
	ctrl := newTestController(t, newTestHost(), fabric)
	require.NoError(t, ctrl.Init(context.Background(), writeConfig(t, fullConfig)))

	ctrl.OnHostEvent(event.Document{"seq": 1, "kind": "session"}, event.Session)
	ctrl.OnHostEvent(event.Document{"seq": 2, "kind": "handle"}, event.Handle)
	ctrl.OnHostEvent(event.Document{"seq": 3, "kind": "core"}, event.Core)
	ctrl.OnHostEvent(event.Document{"seq": 4, "kind": "media"}, event.Media)

	require.Eventually(t, func() bool { return len(fabric.Events()) == 2 }, 2*time.Second, 5*time.Millisecond)
	events := fabric.Events()
	assert.Equal(t, published{"rtc.events", `{"kind":"session","seq":1}`}, events[0])
	assert.Equal(t, published{"rtc.events", `{"kind":"core","seq":3}`}, events[1])

	// Nothing else arrives after the allowed events.
	time.Sleep(30 * time.Millisecond)
	assert.Len(t, fabric.Events(), 2)
}

func TestController_RequestReply(t *testing.T) {
	fabric := newFakeFabric()
	host := newTestHost()
	ctrl := newTestController(t, host, fabric)
	host.ctrl = ctrl
	require.NoError(t, ctrl.Init(context.Background(), writeConfig(t, fullConfig)))

	public := fabric.Endpoint("rtc.api")
	admin := fabric.Endpoint("rtc.admin")
	require.NotNil(t, public)
	require.NotNil(t, admin)

	public.send(`{"janus":"info","transaction":"t1"}`)
	select {
	case r := <-public.replies:
		assert.JSONEq(t, `{"janus":"success","transaction":"t1","admin":false}`, r)
	case <-time.After(2 * time.Second):
		t.Fatal("no reply on public endpoint")
	}

	admin.send(`{"janus":"list_sessions","transaction":"t2"}`)
	select {
	case r := <-admin.replies:
		assert.JSONEq(t, `{"janus":"success","transaction":"t2","admin":true}`, r)
	case <-time.After(2 * time.Second):
		t.Fatal("no reply on admin endpoint")
	}

	req := <-host.requests
	assert.False(t, req.admin)
	req = <-host.requests
	assert.True(t, req.admin)
}

func TestController_InvalidJSON(t *testing.T) {
	fabric := newFakeFabric()
	host := newTestHost()
	ctrl := newTestController(t, host, fabric)
	require.NoError(t, ctrl.Init(context.Background(), writeConfig(t, fullConfig)))

	fabric.Endpoint("rtc.api").send("not json")
	select {
	case r := <-fabric.Endpoint("rtc.api").replies:
		assert.Equal(t, `{"janus":"error","error":{"code":498,"reason":"Invalid JSON"}}`, r)
	case <-time.After(2 * time.Second):
		t.Fatal("no error reply")
	}
	assert.Empty(t, host.requests)
}

func TestController_AdminBindFailureCleansUp(t *testing.T) {
	fabric := newFakeFabric()
	fabric.bindErrs["rtc.admin"] = errors.ErrBindFailed
	registry := metric.NewMetricsRegistry()
	ctrl := newTestController(t, newTestHost(), fabric, WithMetricsRegistry(registry))
	dir := writeConfig(t, fullConfig)

	err := ctrl.Init(context.Background(), dir)
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
	assert.ErrorIs(t, err, errors.ErrBindFailed)

	assert.Equal(t, component.StateStopped, ctrl.State())
	assert.True(t, fabric.Endpoint("rtc.api").IsClosed(), "public endpoint released")
	assert.Equal(t, 1, fabric.Closed(), "connection released")
	assert.Nil(t, ctrl.Config())
	assert.False(t, ctrl.IsPublicAPIEnabled())

	// Everything was unregistered, so a second attempt can register again.
	delete(fabric.bindErrs, "rtc.admin")
	require.NoError(t, ctrl.Init(context.Background(), dir))
	assert.True(t, ctrl.IsAdminAPIEnabled())
	assert.Equal(t, float64(component.StateRunning),
		testutil.ToFloat64(registry.CoreMetrics().BridgeState.WithLabelValues("rtcbridge")))
	assert.Equal(t, 1.0, testutil.ToFloat64(registry.CoreMetrics().Inits.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(registry.CoreMetrics().Inits.WithLabelValues("ok")))
}

func TestController_ConnectRetry(t *testing.T) {
	fabric := newFakeFabric()
	fabric.connectErrs = 2
	ctrl := newTestController(t, newTestHost(), fabric)

	require.NoError(t, ctrl.Init(context.Background(), writeConfig(t, fullConfig)))
	assert.Equal(t, 3, fabric.Connects())
}

func TestController_ConnectAttemptsExhausted(t *testing.T) {
	fabric := newFakeFabric()
	fabric.connectErr = stderrors.New("connection refused")
	ctrl := newTestController(t, newTestHost(), fabric)

	err := ctrl.Init(context.Background(), writeConfig(t, fullConfig))
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
	assert.Equal(t, 3, fabric.Connects())
	assert.Nil(t, fabric.Endpoint("rtc.api"), "nothing bound without a connection")
	assert.Equal(t, component.StateStopped, ctrl.State())
}

func TestController_ShutdownReleasesEverything(t *testing.T) {
	fabric := newFakeFabric()
	ctrl := newTestController(t, newTestHost(), fabric)
	require.NoError(t, ctrl.Init(context.Background(), writeConfig(t, fullConfig)))

	require.NoError(t, ctrl.Shutdown(context.Background()))
	assert.Equal(t, component.StateStopped, ctrl.State())
	assert.True(t, fabric.Endpoint("rtc.api").IsClosed())
	assert.True(t, fabric.Endpoint("rtc.admin").IsClosed())
	assert.Equal(t, 1, fabric.Closed())
	assert.Nil(t, ctrl.Config())

	// Idempotent, and the host's late calls are harmless.
	require.NoError(t, ctrl.Shutdown(context.Background()))
	assert.Equal(t, 1, fabric.Closed())
	ctrl.OnHostEvent(event.Document{"late": true}, event.Core)
	assert.ErrorIs(t, ctrl.SendMessage(nil, false, event.Document{}), transport.ErrStopping)
	assert.ErrorIs(t, ctrl.SendMessage(nil, false, nil), transport.ErrNilMessage)
}

func TestController_ShutdownDrainsQueuedEvents(t *testing.T) {
	fabric := newFakeFabric()
	fabric.gate = make(chan struct{})
	ctrl := newTestController(t, newTestHost(), fabric)
	require.NoError(t, ctrl.Init(context.Background(), writeConfig(t, fullConfig)))

	for i := 0; i < 6; i++ {
		ctrl.OnHostEvent(event.Document{"seq": i}, event.Session)
	}
	require.Eventually(t, func() bool { return fabric.Calls() == 1 }, 2*time.Second, 5*time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- ctrl.Shutdown(context.Background()) }()
	require.Eventually(t, func() bool { return ctrl.State() == component.StateStopping },
		2*time.Second, 5*time.Millisecond)

	// While stopping, status is unavailable and Init refuses to start.
	assert.Nil(t, ctrl.QueryStatus(nil))
	assert.ErrorIs(t, ctrl.Init(context.Background(), t.TempDir()), ErrStillStopping)
	assert.False(t, ctrl.Health().Healthy)

	close(fabric.gate)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("shutdown did not complete")
	}

	assert.Equal(t, 1, fabric.Calls(), "queued events are released, not sent")
	assert.Equal(t, component.StateStopped, ctrl.State())
}

func TestController_NoRequestsAfterStopSignal(t *testing.T) {
	fabric := newFakeFabric()
	fabric.gate = make(chan struct{})
	host := newTestHost()
	ctrl := newTestController(t, host, fabric)
	require.NoError(t, ctrl.Init(context.Background(), writeConfig(t, fullConfig)))

	pub := ctrl.publisher.Load()
	require.NotNil(t, pub)
	api := fabric.Endpoint("rtc.api")
	require.NotNil(t, api)

	// Stall the event worker inside a send so shutdown stays in Stopping.
	ctrl.OnHostEvent(event.Document{"seq": 0}, event.Session)
	require.Eventually(t, func() bool { return fabric.Calls() == 1 }, 2*time.Second, 5*time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- ctrl.Shutdown(context.Background()) }()

	// The request bridge is signalled before the publisher, so once the
	// publisher reports stopping no endpoint may hand work to the host.
	require.Eventually(t, func() bool { return pub.State() == component.StateStopping },
		2*time.Second, time.Millisecond)
	require.Equal(t, component.StateStopping, ctrl.State())

	api.send(`{"janus":"ping","transaction":"late"}`)
	select {
	case r := <-host.requests:
		t.Fatalf("host received %v while stopping", r.doc)
	case <-time.After(100 * time.Millisecond):
	}

	close(fabric.gate)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("shutdown did not complete")
	}

	assert.Empty(t, host.requests)
	assert.Empty(t, api.replies)
	assert.True(t, api.IsClosed())
	assert.Equal(t, 1, fabric.Calls())
}

func TestController_Reinit(t *testing.T) {
	fabric := newFakeFabric()
	host := newTestHost()
	registry := metric.NewMetricsRegistry()
	ctrl := newTestController(t, host, fabric, WithMetricsRegistry(registry))
	host.ctrl = ctrl
	dir := writeConfig(t, fullConfig)

	for i := 0; i < 3; i++ {
		require.NoError(t, ctrl.Init(context.Background(), dir), "init %d", i)

		ep := fabric.Endpoint("rtc.api")
		ep.send(`{"janus":"ping","transaction":"x"}`)
		select {
		case r := <-ep.replies:
			assert.Contains(t, r, `"transaction":"x"`)
		case <-time.After(2 * time.Second):
			t.Fatalf("no reply in round %d", i)
		}
		<-host.requests

		require.NoError(t, ctrl.Shutdown(context.Background()), "shutdown %d", i)
	}
	assert.Equal(t, 3, fabric.Closed())
}

func TestController_QueryStatus(t *testing.T) {
	fabric := newFakeFabric()
	ctrl := newTestController(t, newTestHost(), fabric)

	status := ctrl.QueryStatus(nil)
	require.NotNil(t, status)
	assert.Equal(t, "uninitialized", status["state"])
	assert.Equal(t, event.Document{"enabled": false}, status["events"])

	require.NoError(t, ctrl.Init(context.Background(), writeConfig(t, fullConfig)))
	status = ctrl.QueryStatus(event.Document{"request": "status"})
	require.NotNil(t, status)

	info := DefaultInfo()
	assert.Equal(t, info.Name, status["name"])
	assert.Equal(t, info.Version, status["version"])
	assert.Equal(t, info.VersionString, status["version_string"])
	assert.Equal(t, "running", status["state"])

	events := status["events"].(event.Document)
	assert.Equal(t, true, events["enabled"])
	assert.Equal(t, "rtc.events", events["address"])
	assert.Equal(t, uint32(event.Session|event.Core), events["events_mask"])
	assert.Equal(t, "sessions,core", events["events"])

	assert.Equal(t, event.Document{"enabled": true, "address": "rtc.api"}, status["janus_api"])
	assert.Equal(t, event.Document{"enabled": true, "address": "rtc.admin"}, status["admin_api"])

	h := status["health"].(map[string]any)
	assert.Equal(t, true, h["healthy"])
}

func TestController_QueryStatusEventsOnly(t *testing.T) {
	fabric := newFakeFabric()
	ctrl := newTestController(t, newTestHost(), fabric)
	require.NoError(t, ctrl.Init(context.Background(), writeConfig(t, `{"events": {"enabled": true}}`)))

	status := ctrl.QueryStatus(nil)
	assert.Equal(t, event.Document{"enabled": false}, status["janus_api"])
	assert.Equal(t, event.Document{"enabled": false}, status["admin_api"])
	assert.Equal(t, "all", status["events"].(event.Document)["events"])
	assert.Empty(t, fabric.bindOrder)
}

func TestController_HealthFollowsConnection(t *testing.T) {
	fabric := newFakeFabric()
	ctrl := newTestController(t, newTestHost(), fabric)
	require.NoError(t, ctrl.Init(context.Background(), writeConfig(t, fullConfig)))
	assert.True(t, ctrl.Health().Healthy)

	fabric.deps.OnHealthChange(false)
	status := ctrl.Health()
	assert.False(t, status.Healthy)
	assert.Equal(t, health.StatusUnhealthy, status.Status)

	fabric.deps.OnHealthChange(true)
	assert.True(t, ctrl.Health().Healthy)
}
