package bridge

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/c360/rtcbridge/config"
	"github.com/c360/rtcbridge/event"
	"github.com/c360/rtcbridge/natsclient"
	"github.com/c360/rtcbridge/transport"
)

type published struct {
	subject string
	data    string
}

// fakeFabric stands in for the NATS connection
type fakeFabric struct {
	mu          sync.Mutex
	cfg         *config.Config
	deps        FabricDeps
	connects    int
	connectErrs int // fail this many Connect calls before succeeding
	connectErr  error
	bindErrs    map[string]error
	endpoints   map[string]*fakeEndpoint
	bindOrder   []string
	events      []published
	calls       int
	gate        chan struct{} // blocks the first TryPublish until closed
	closed      int
}

func newFakeFabric() *fakeFabric {
	return &fakeFabric{
		bindErrs:  make(map[string]error),
		endpoints: make(map[string]*fakeEndpoint),
	}
}

// factory returns a FabricFactory handing out this fabric
func (f *fakeFabric) factory() FabricFactory {
	return func(cfg *config.Config, deps FabricDeps) (Fabric, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.cfg = cfg
		f.deps = deps
		return f, nil
	}
}

func (f *fakeFabric) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connectErr != nil {
		return f.connectErr
	}
	if f.connects <= f.connectErrs {
		return stderrors.New("connection refused")
	}
	return nil
}

func (f *fakeFabric) TryPublish(subject string, data []byte) error {
	f.mu.Lock()
	f.calls++
	first := f.calls == 1
	gate := f.gate
	f.mu.Unlock()

	if first && gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, published{subject: subject, data: string(data)})
	return nil
}

func (f *fakeFabric) Bind(subject, _ string) (transport.Endpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.bindErrs[subject]; err != nil {
		return nil, err
	}
	ep := newFakeEndpoint(subject)
	f.endpoints[subject] = ep
	f.bindOrder = append(f.bindOrder, subject)
	return ep, nil
}

func (f *fakeFabric) Close(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeFabric) Events() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.events...)
}

func (f *fakeFabric) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeFabric) Endpoint(subject string) *fakeEndpoint {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.endpoints[subject]
}

func (f *fakeFabric) Closed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeFabric) Connects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

// fakeEndpoint feeds frames from a channel and records replies
type fakeEndpoint struct {
	address  string
	incoming chan *transport.Frame
	replies  chan string
	done     chan struct{}
	once     sync.Once
}

func newFakeEndpoint(address string) *fakeEndpoint {
	return &fakeEndpoint{
		address:  address,
		incoming: make(chan *transport.Frame, 16),
		replies:  make(chan string, 16),
		done:     make(chan struct{}),
	}
}

func (e *fakeEndpoint) Address() string { return e.address }

func (e *fakeEndpoint) Receive(timeout time.Duration) (*transport.Frame, error) {
	select {
	case <-e.done:
		return nil, natsclient.ErrResponderClosed
	default:
	}
	select {
	case frame := <-e.incoming:
		return frame, nil
	case <-e.done:
		return nil, natsclient.ErrResponderClosed
	case <-time.After(timeout):
		return nil, natsclient.ErrReceiveTimeout
	}
}

func (e *fakeEndpoint) Reply(_ *transport.Frame, data []byte) error {
	e.replies <- string(data)
	return nil
}

func (e *fakeEndpoint) Close() error {
	e.once.Do(func() { close(e.done) })
	return nil
}

func (e *fakeEndpoint) IsClosed() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

func (e *fakeEndpoint) send(data string) {
	e.incoming <- &transport.Frame{Data: []byte(data)}
}

// request is one IncomingRequest call seen by testHost
type request struct {
	session *transport.Session
	admin   bool
	doc     event.Document
}

// testHost records requests and, when a controller is set, answers them
// asynchronously the way a gateway would.
type testHost struct {
	requests chan request
	ctrl     *Controller
}

func newTestHost() *testHost {
	return &testHost{requests: make(chan request, 16)}
}

func (h *testHost) IncomingRequest(session *transport.Session, admin bool, doc event.Document) {
	h.requests <- request{session: session, admin: admin, doc: doc}
	if h.ctrl != nil {
		go func() {
			_ = h.ctrl.SendMessage(session, admin, event.Document{
				"janus":       "success",
				"transaction": doc["transaction"],
				"admin":       admin,
			})
		}()
	}
}
