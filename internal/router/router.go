// Package router decides, per decoded notification, how a trigger reaches
// the emergency dispatcher: through the foreground screen's reporter, or
// through the background-safe notification path. Exactly one of the two
// executes per trigger edge.
//
// Radio callbacks may arrive off the main execution context; the router
// defers all shared-state mutation onto a single serialized loop (Run).
// Telemetry is shed rather than blocking the signal-delivery callback;
// triggers are never shed and never reordered.
package router

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kavach/kavach/internal/dispatch"
	"github.com/kavach/kavach/internal/signal"
	"github.com/kavach/kavach/internal/state"
)

// AppState is the OS-reported application lifecycle state.
type AppState int

const (
	Foreground AppState = iota
	Background
)

// LifecycleFunc reports the lifecycle state. It is queried at the instant a
// signal arrives, never cached, so a race between backgrounding and signal
// arrival resolves to the true current state.
type LifecycleFunc func() AppState

// Target is the dispatch target chosen for one trigger: a tagged union of
// the two variants.
type Target interface{ isTarget() }

// ForegroundTarget routes the outcome through the registered screen
// reporter.
type ForegroundTarget struct{ Report dispatch.Reporter }

// BackgroundTarget routes the outcome through the user-visible notifier.
type BackgroundTarget struct{}

func (ForegroundTarget) isTarget() {}
func (BackgroundTarget) isTarget() {}

// Dispatcher is the emergency workflow the router drives.
type Dispatcher interface {
	Dispatch(ctx context.Context, deviceID string, report dispatch.Reporter) state.Incident
}

// Router wires decoded notifications into the mirror and the dispatcher.
type Router struct {
	mirror     *state.Mirror
	dispatcher Dispatcher
	lifecycle  LifecycleFunc
	notifier   dispatch.Notifier
	deviceID   func() string
	logger     *logrus.Logger

	queue chan func()

	mu sync.RWMutex
	fg dispatch.Reporter
}

// New creates a router. deviceID supplies the identifier attached to
// dispatches (the paired device's id, "" when unknown).
func New(mirror *state.Mirror, dispatcher Dispatcher, lifecycle LifecycleFunc,
	notifier dispatch.Notifier, deviceID func() string, logger *logrus.Logger) *Router {
	if notifier == nil {
		notifier = dispatch.NopNotifier{}
	}
	if logger == nil {
		logger = logrus.New()
	}
	if deviceID == nil {
		deviceID = func() string { return "" }
	}
	return &Router{
		mirror:     mirror,
		dispatcher: dispatcher,
		lifecycle:  lifecycle,
		notifier:   notifier,
		deviceID:   deviceID,
		logger:     logger,
		queue:      make(chan func(), 256),
	}
}

// SetForegroundHandler registers the mounted screen's reporter. While
// registered and the app is foregrounded, trigger outcomes route through it.
func (r *Router) SetForegroundHandler(report dispatch.Reporter) {
	r.mu.Lock()
	r.fg = report
	r.mu.Unlock()
}

// ClearForegroundHandler removes the screen reporter (screen unmounted).
func (r *Router) ClearForegroundHandler() {
	r.mu.Lock()
	r.fg = nil
	r.mu.Unlock()
}

// resolveTarget picks exactly one dispatch target for a trigger, based on
// the lifecycle state captured at signal arrival. A backgrounded app takes
// the background-safe path even if a stale screen registration remains.
func (r *Router) resolveTarget(at AppState) Target {
	if at == Foreground {
		r.mu.RLock()
		fg := r.fg
		r.mu.RUnlock()
		if fg != nil {
			return ForegroundTarget{Report: fg}
		}
	}
	return BackgroundTarget{}
}

// OnNotification is the radio callback for the standing subscription. It
// decodes, captures the lifecycle state at arrival, and defers processing
// onto the serialized loop. Telemetry never blocks the callback; a trigger
// meeting a full queue waits for a slot so delivery order is preserved.
func (r *Router) OnNotification(raw []byte) {
	payload := signal.DecodeBytes(raw)
	at := time.Now()
	lifecycle := r.lifecycle()

	fn := func() { r.process(payload, at, lifecycle) }
	select {
	case r.queue <- fn:
	default:
		if !payload.IsTrigger {
			// Telemetry may be shed under backlog; triggers may not.
			r.logger.Warn("Router queue full, dropping telemetry event")
			return
		}
		// Blocking here keeps the trigger behind everything already
		// queued; Run is draining on the other side.
		r.logger.Warn("Router queue full, waiting to enqueue trigger")
		r.queue <- fn
	}
}

// process runs on the serialized loop: mirror update first, then at most
// one dispatch path for a trigger.
func (r *Router) process(payload signal.Payload, at time.Time, lifecycle AppState) {
	// Every payload updates the last-payload field, trigger or telemetry.
	r.mirror.SetLastPayload(payload, at)

	if !payload.IsTrigger {
		if name := signal.Describe(payload.Hex); name != "" {
			r.logger.WithField("code", name).Debug("Telemetry payload")
		}
		return
	}

	deviceID := r.deviceID()
	target := r.resolveTarget(lifecycle)
	log := r.logger.WithFields(logrus.Fields{
		"device_id": deviceID,
		"hex":       payload.Hex,
	})

	// The dispatch itself runs off the loop so subsequent notifications
	// keep processing in order; each trigger edge dispatches exactly once.
	switch t := target.(type) {
	case ForegroundTarget:
		log.Warn("SOS trigger, foreground path")
		go r.dispatcher.Dispatch(context.Background(), deviceID, t.Report)
	case BackgroundTarget:
		log.Warn("SOS trigger, background-safe path")
		r.notifier.Notify("Kavach SOS", "Emergency signal received, dispatching...")
		go r.dispatcher.Dispatch(context.Background(), deviceID, r.backgroundReporter())
	}
}

func (r *Router) backgroundReporter() dispatch.Reporter {
	return func(o dispatch.Outcome) {
		title := "Kavach SOS"
		if !o.Sent {
			title = "Kavach SOS (not sent)"
		}
		r.notifier.Notify(title, o.Message)
	}
}

// Run drains the serialized loop until ctx is done. All mirror writes and
// routing decisions happen here, in arrival order.
func (r *Router) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-r.queue:
			fn()
		}
	}
}
