package router_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/kavach/kavach/internal/dispatch"
	"github.com/kavach/kavach/internal/router"
	"github.com/kavach/kavach/internal/state"
)

type fakeDispatcher struct {
	mu        sync.Mutex
	deviceIDs []string
	done      chan struct{}
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{done: make(chan struct{}, 16)}
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, deviceID string, report dispatch.Reporter) state.Incident {
	f.mu.Lock()
	f.deviceIDs = append(f.deviceIDs, deviceID)
	f.mu.Unlock()
	inc := state.Incident{ID: "inc-1", DeviceID: deviceID}
	if report != nil {
		report(dispatch.Outcome{Incident: inc, Sent: true, Message: "sent"})
	}
	f.done <- struct{}{}
	return inc
}

func (f *fakeDispatcher) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.deviceIDs)
}

type recordingNotifier struct {
	mu     sync.Mutex
	titles []string
}

func (n *recordingNotifier) Notify(title, body string) {
	n.mu.Lock()
	n.titles = append(n.titles, title)
	n.mu.Unlock()
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.titles)
}

type routerFixture struct {
	router     *router.Router
	mirror     *state.Mirror
	dispatcher *fakeDispatcher
	notifier   *recordingNotifier
	cancel     context.CancelFunc
}

func newFixture(t *testing.T, lifecycle router.LifecycleFunc) *routerFixture {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	f := &routerFixture{
		mirror:     state.NewMirror(),
		dispatcher: newFakeDispatcher(),
		notifier:   &recordingNotifier{},
	}
	f.router = router.New(f.mirror, f.dispatcher, lifecycle, f.notifier,
		func() string { return "band-001" }, logger)

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	go f.router.Run(ctx)
	t.Cleanup(cancel)
	return f
}

func (f *routerFixture) waitDispatch(t *testing.T) {
	t.Helper()
	select {
	case <-f.dispatcher.done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch never ran")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never met")
}

func TestTriggerInForegroundRoutesToScreen(t *testing.T) {
	f := newFixture(t, func() router.AppState { return router.Foreground })

	var mu sync.Mutex
	var outcomes []dispatch.Outcome
	f.router.SetForegroundHandler(func(o dispatch.Outcome) {
		mu.Lock()
		outcomes = append(outcomes, o)
		mu.Unlock()
	})

	f.router.OnNotification([]byte{0x01})
	f.waitDispatch(t)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(outcomes) == 1
	})
	require.Equal(t, 1, f.dispatcher.calls())
	// Exactly one path: the screen saw the outcome, the notifier stayed quiet.
	require.Zero(t, f.notifier.count())
}

func TestTriggerInBackgroundRoutesToNotifier(t *testing.T) {
	f := newFixture(t, func() router.AppState { return router.Background })

	// A stale screen registration must not hijack a backgrounded trigger.
	f.router.SetForegroundHandler(func(o dispatch.Outcome) {
		t.Error("foreground reporter invoked while backgrounded")
	})

	f.router.OnNotification([]byte{0x01})
	f.waitDispatch(t)

	waitFor(t, func() bool { return f.notifier.count() >= 2 })
	require.Equal(t, 1, f.dispatcher.calls())
}

func TestTriggerWithoutScreenFallsBackToNotifier(t *testing.T) {
	f := newFixture(t, func() router.AppState { return router.Foreground })

	f.router.OnNotification([]byte{0x01})
	f.waitDispatch(t)

	// Foreground but no registered screen still dispatches, background-safe.
	waitFor(t, func() bool { return f.notifier.count() >= 1 })
	require.Equal(t, 1, f.dispatcher.calls())
}

func TestTelemetryUpdatesMirrorWithoutDispatch(t *testing.T) {
	f := newFixture(t, func() router.AppState { return router.Foreground })

	f.router.OnNotification([]byte{0x02})

	waitFor(t, func() bool { return f.mirror.Snapshot().LastPayload.Hex == "02" })
	require.Zero(t, f.dispatcher.calls())
	require.False(t, f.mirror.Snapshot().LastPayload.IsTrigger)
}

func TestTriggerAlsoUpdatesLastPayload(t *testing.T) {
	f := newFixture(t, func() router.AppState { return router.Background })

	f.router.OnNotification([]byte{0x01})
	f.waitDispatch(t)

	snap := f.mirror.Snapshot()
	require.Equal(t, "01", snap.LastPayload.Hex)
	require.True(t, snap.LastPayload.IsTrigger)
}

func TestClearForegroundHandler(t *testing.T) {
	f := newFixture(t, func() router.AppState { return router.Foreground })

	f.router.SetForegroundHandler(func(o dispatch.Outcome) {
		t.Error("cleared reporter invoked")
	})
	f.router.ClearForegroundHandler()

	f.router.OnNotification([]byte{0x01})
	f.waitDispatch(t)

	waitFor(t, func() bool { return f.notifier.count() >= 1 })
}

func TestTriggerOnFullQueueWaitsAndStaysOrdered(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	mirror := state.NewMirror()
	dispatcher := newFakeDispatcher()
	notifier := &recordingNotifier{}
	r := router.New(mirror, dispatcher, func() router.AppState { return router.Background },
		notifier, func() string { return "band-001" }, logger)

	// No loop running: saturate the queue with telemetry. Overflow beyond
	// capacity is shed, never blocking the callback.
	for i := 0; i < 512; i++ {
		r.OnNotification([]byte{0x02})
	}

	// A trigger against the full queue waits for a slot instead of jumping
	// the line through a deferred enqueue.
	enqueued := make(chan struct{})
	go func() {
		r.OnNotification([]byte{0x01})
		close(enqueued)
	}()
	select {
	case <-enqueued:
		t.Fatal("trigger enqueued while the queue was full")
	case <-time.After(50 * time.Millisecond):
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	select {
	case <-enqueued:
	case <-time.After(2 * time.Second):
		t.Fatal("trigger never enqueued after the loop drained")
	}
	select {
	case <-dispatcher.done:
	case <-time.After(2 * time.Second):
		t.Fatal("trigger never dispatched")
	}

	// Processed after all earlier telemetry: the trigger is the last
	// payload the mirror saw, and it dispatched exactly once.
	waitFor(t, func() bool { return mirror.Snapshot().LastPayload.Hex == "01" })
	require.True(t, mirror.Snapshot().LastPayload.IsTrigger)
	require.Equal(t, 1, dispatcher.calls())
}

func TestEachTriggerEdgeDispatchesOnce(t *testing.T) {
	f := newFixture(t, func() router.AppState { return router.Background })

	for i := 0; i < 3; i++ {
		f.router.OnNotification([]byte{0x01})
	}
	for i := 0; i < 3; i++ {
		f.waitDispatch(t)
	}

	require.Equal(t, 3, f.dispatcher.calls())
}
