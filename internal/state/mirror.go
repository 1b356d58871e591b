// Package state holds the observable state shared between the connection
// pipeline and the UI surface.
//
// The Mirror replaces the ambient global store of the original design with
// an explicit state object: written only by the connection manager and the
// emergency dispatcher, read by everyone else through snapshots and a
// change-subscription stream.
package state

import (
	"sync"
	"time"

	"github.com/kavach/kavach/internal/events"
	"github.com/kavach/kavach/internal/signal"
)

// ConnectedDevice is the single authoritative paired device. At most one
// exists at a time; switching devices is an explicit disconnect-then-connect.
type ConnectedDevice struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	DeviceID string `json:"deviceId"` // submitted to the backend, reused as the storage key
	// Registration is opaque backend metadata returned on registration.
	Registration map[string]any `json:"registration,omitempty"`
	PairedAt     time.Time      `json:"pairedAt"`
}

// Incident is one emergency-dispatch occurrence. The local list is
// most-recent-first and independent of backend acknowledgement.
type Incident struct {
	ID          string    `json:"id"`
	TriggeredAt time.Time `json:"triggeredAt"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	Mode        string    `json:"mode"`
	DeviceID    string    `json:"deviceId"`
	DeviceInfo  string    `json:"deviceInfo"`
	IP          string    `json:"ip,omitempty"`

	// Backend-assigned fields, zero until acknowledged.
	Status          string `json:"status,omitempty"`
	ContactsAlerted int    `json:"contactsAlerted,omitempty"`
	Submitted       bool   `json:"submitted"`
}

// Payload is the most recent decoded notification, trigger or not.
type Payload struct {
	Hex       string
	IsTrigger bool
	At        time.Time
}

// Snapshot is a point-in-time copy of the mirror.
type Snapshot struct {
	LastPayload Payload
	Device      *ConnectedDevice
	Connected   bool
	Monitoring  bool
	Incidents   []Incident
}

// ChangeKind identifies which field group a change event touched.
type ChangeKind int

const (
	PayloadChanged ChangeKind = iota
	DeviceChanged
	ConnectionChanged
	IncidentsChanged
)

// Change is one mirror mutation on the subscription stream.
type Change struct {
	Kind     ChangeKind
	Snapshot Snapshot
}

// Mirror is the process-wide observable state. All methods are safe for
// concurrent use; the router serializes UI-affecting writes onto the main
// execution context before they land here.
type Mirror struct {
	mu      sync.RWMutex
	snap    Snapshot
	subs    map[int]*events.RingChannel[Change]
	nextSub int
}

// NewMirror creates an empty mirror.
func NewMirror() *Mirror {
	return &Mirror{subs: make(map[int]*events.RingChannel[Change])}
}

// SetLastPayload records the most recent decoded notification. Every
// inbound payload lands here, trigger or telemetry.
func (m *Mirror) SetLastPayload(p signal.Payload, at time.Time) {
	m.mu.Lock()
	m.snap.LastPayload = Payload{Hex: p.Hex, IsTrigger: p.IsTrigger, At: at}
	m.publishLocked(PayloadChanged)
	m.mu.Unlock()
}

// SetDevice replaces the authoritative paired device. Only the connection
// manager writes here.
func (m *Mirror) SetDevice(d *ConnectedDevice) {
	m.mu.Lock()
	m.snap.Device = d
	m.publishLocked(DeviceChanged)
	m.mu.Unlock()
}

// SetConnection updates the connected/monitoring flags. Only the connection
// manager writes here.
func (m *Mirror) SetConnection(connected, monitoring bool) {
	m.mu.Lock()
	m.snap.Connected = connected
	m.snap.Monitoring = monitoring
	m.publishLocked(ConnectionChanged)
	m.mu.Unlock()
}

// AppendIncident inserts an incident at the head of the list. Only the
// dispatcher writes here.
func (m *Mirror) AppendIncident(inc Incident) {
	m.mu.Lock()
	m.snap.Incidents = append([]Incident{inc}, m.snap.Incidents...)
	m.publishLocked(IncidentsChanged)
	m.mu.Unlock()
}

// MarkSubmitted flags an incident as backend-acknowledged, attaching the
// backend-assigned fields.
func (m *Mirror) MarkSubmitted(id, status string, contactsAlerted int) {
	m.mu.Lock()
	for i := range m.snap.Incidents {
		if m.snap.Incidents[i].ID == id {
			m.snap.Incidents[i].Submitted = true
			m.snap.Incidents[i].Status = status
			m.snap.Incidents[i].ContactsAlerted = contactsAlerted
			break
		}
	}
	m.publishLocked(IncidentsChanged)
	m.mu.Unlock()
}

// ReplaceIncidents swaps in the backend history view. Happens only on
// explicit refresh, never automatically.
func (m *Mirror) ReplaceIncidents(list []Incident) {
	m.mu.Lock()
	m.snap.Incidents = append([]Incident(nil), list...)
	m.publishLocked(IncidentsChanged)
	m.mu.Unlock()
}

// Snapshot returns a copy of the current state.
func (m *Mirror) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.copyLocked()
}

func (m *Mirror) copyLocked() Snapshot {
	snap := m.snap
	snap.Incidents = append([]Incident(nil), m.snap.Incidents...)
	if m.snap.Device != nil {
		d := *m.snap.Device
		snap.Device = &d
	}
	return snap
}

// Subscribe returns a bounded change stream and a cancel function. Slow
// consumers lose oldest changes rather than stalling writers.
func (m *Mirror) Subscribe() (<-chan Change, func()) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	ch := events.NewRingChannel[Change](64)
	m.subs[id] = ch
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		if sub, ok := m.subs[id]; ok {
			delete(m.subs, id)
			sub.Close()
		}
		m.mu.Unlock()
	}
	return ch.C(), cancel
}

func (m *Mirror) publishLocked(kind ChangeKind) {
	if len(m.subs) == 0 {
		return
	}
	change := Change{Kind: kind, Snapshot: m.copyLocked()}
	for _, sub := range m.subs {
		sub.Send(change)
	}
}
