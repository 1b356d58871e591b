// Package registry merges device discovery from the BLE and Classic
// transports into one de-duplicated candidate list.
//
// Candidates are keyed by exact transport-scoped id; a Classic entry can
// never displace a BLE entry that happens to share a display name. The
// collection keeps discovery order: repeat sightings update mutable fields
// (name, rssi) in place.
package registry

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/kavach/kavach/internal/events"
	"github.com/kavach/kavach/internal/transport"
)

// Scan window bounds.
const (
	// DiscoveryWindow bounds the general "nearby devices" scan.
	DiscoveryWindow = 20 * time.Second
	// WearableWindow bounds the filtered wearable-only scan.
	WearableWindow = 10 * time.Second
	// WearableNameToken matches the band's advertised name.
	WearableNameToken = "kavach"
)

// EventType marks whether a candidate was newly discovered or updated.
type EventType int

const (
	EventNew EventType = iota
	EventUpdated
)

// Event is one discovery event on the registry's stream.
type Event struct {
	Type      EventType
	Candidate transport.Candidate
}

// SessionOptions configures one scan session.
type SessionOptions struct {
	// Window is the wall-clock bound; on expiry the session flips to idle.
	Window time.Duration
	// NameFilter, when non-empty, is a case-insensitive substring match a
	// candidate's name must pass to be accepted.
	NameFilter string
}

// DiscoverySession accepts all candidates for the general discovery surface.
func DiscoverySession() *SessionOptions {
	return &SessionOptions{Window: DiscoveryWindow}
}

// WearableSession accepts only candidates named like the wearable.
func WearableSession() *SessionOptions {
	return &SessionOptions{Window: WearableWindow, NameFilter: WearableNameToken}
}

type session struct {
	cancel context.CancelFunc
	done   chan struct{}
	filter string

	mu   sync.Mutex
	errs []error
}

// Registry is the merged candidate collection. Candidates are transient:
// each new session clears the previous list, and nothing is persisted.
type Registry struct {
	transports []transport.Transport
	logger     *logrus.Logger
	events     *events.RingChannel[Event]

	mu         sync.Mutex
	candidates *orderedmap.OrderedMap[string, transport.Candidate]
	active     *session
	last       *session
}

// New creates a registry over the given transports.
func New(transports []transport.Transport, logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.New()
	}
	return &Registry{
		transports: transports,
		logger:     logger,
		events:     events.NewRingChannel[Event](100),
		candidates: orderedmap.New[string, transport.Candidate](),
	}
}

// StartScanSession clears prior candidates and opens all transports'
// scans concurrently, bounded by the session window. Only one session may
// be active at a time.
func (r *Registry) StartScanSession(ctx context.Context, opts *SessionOptions) error {
	if opts == nil {
		opts = DiscoverySession()
	}

	r.mu.Lock()
	if r.active != nil {
		r.mu.Unlock()
		return &transport.Error{Reason: transport.ScanFailed, Msg: "scan session already active"}
	}

	scanCtx, cancel := context.WithTimeout(ctx, opts.Window)
	s := &session{
		cancel: cancel,
		done:   make(chan struct{}),
		filter: strings.ToLower(opts.NameFilter),
	}
	r.active = s
	r.last = s
	r.candidates = orderedmap.New[string, transport.Candidate]()
	r.mu.Unlock()

	r.logger.WithFields(logrus.Fields{
		"window": opts.Window,
		"filter": opts.NameFilter,
	}).Info("Starting scan session")

	var wg sync.WaitGroup
	for _, t := range r.transports {
		wg.Add(1)
		go func(t transport.Transport) {
			defer wg.Done()
			if err := t.Scan(scanCtx, func(c transport.Candidate) { r.onCandidate(s, c) }); err != nil {
				// One transport failing halts only its own contribution.
				r.logger.WithFields(logrus.Fields{
					"transport": t.Kind(),
					"error":     err,
				}).Warn("Transport scan failed")
				s.mu.Lock()
				s.errs = append(s.errs, err)
				s.mu.Unlock()
			}
		}(t)
	}

	go func() {
		wg.Wait()
		cancel()
		r.mu.Lock()
		if r.active == s {
			r.active = nil
		}
		count := r.candidates.Len()
		r.mu.Unlock()
		r.logger.WithField("candidates", count).Info("Scan session completed")
		close(s.done)
	}()

	return nil
}

// onCandidate upserts a discovery event into the collection. Events that
// arrive after the session ended are dropped, not merged.
func (r *Registry) onCandidate(s *session, c transport.Candidate) {
	if s.filter != "" && !strings.Contains(strings.ToLower(c.Name), s.filter) {
		return
	}

	r.mu.Lock()
	if r.active != s {
		r.mu.Unlock()
		return
	}

	existing, known := r.candidates.Get(c.ID)
	if known {
		// Update mutable fields in place; position in the collection and
		// the transport identity are fixed at first sight.
		if c.Name != "" {
			existing.Name = c.Name
		}
		if c.RSSI != nil {
			existing.RSSI = c.RSSI
		}
		existing.Bonded = existing.Bonded || c.Bonded
		r.candidates.Set(c.ID, existing)
		r.mu.Unlock()
		r.events.Send(Event{Type: EventUpdated, Candidate: existing})
		return
	}

	r.candidates.Set(c.ID, c)
	r.mu.Unlock()

	r.logger.WithFields(logrus.Fields{
		"device":    c.Name,
		"id":        c.ID,
		"transport": c.Kind,
	}).Info("Discovered new device")
	r.events.Send(Event{Type: EventNew, Candidate: c})
}

// StopScanSession halts both transports' discovery. Safe when idle.
func (r *Registry) StopScanSession() {
	r.mu.Lock()
	s := r.active
	r.mu.Unlock()
	if s != nil {
		s.cancel()
	}
}

// Wait blocks until the most recent session ends (window expiry or stop)
// and returns the per-transport scan errors, if any. Returns immediately
// when no session was ever started.
func (r *Registry) Wait() []error {
	r.mu.Lock()
	s := r.last
	r.mu.Unlock()
	if s == nil {
		return nil
	}
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errs
}

// Scanning reports whether a scan session is active.
func (r *Registry) Scanning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active != nil
}

// Snapshot returns the candidates in discovery order.
func (r *Registry) Snapshot() []transport.Candidate {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]transport.Candidate, 0, r.candidates.Len())
	for pair := r.candidates.Oldest(); pair != nil; pair = pair.Next() {
		result = append(result, pair.Value)
	}
	return result
}

// Lookup returns the candidate with the given id from the current snapshot.
func (r *Registry) Lookup(id string) (transport.Candidate, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.candidates.Get(id)
}

// Events returns the discovery event stream. The stream is bounded and
// drops oldest under backpressure.
func (r *Registry) Events() <-chan Event {
	return r.events.C()
}
