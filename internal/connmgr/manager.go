// Package connmgr owns the single authoritative wearable connection: the
// scan-filter-connect-subscribe sequence, the persisted device identifier,
// and backend device registration.
//
// At most one standing subscription exists at any time. Connecting to a
// different device tears down the previous subscription first; connecting
// to the already-connected device is a no-op.
package connmgr

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/kavach/kavach/internal/registry"
	"github.com/kavach/kavach/internal/state"
	"github.com/kavach/kavach/internal/transport"
)

// ErrRegistrationDegraded wraps a backend failure after a successful radio
// connect: the device is usable locally, only the registration step failed.
var ErrRegistrationDegraded = errors.New("device connected, backend registration failed")

// ErrNoPersistedDevice is returned by Reconnect when no identifier was
// stored by a prior session.
var ErrNoPersistedDevice = errors.New("no persisted device identifier")

// Registrar is the backend surface the manager needs.
type Registrar interface {
	RegisterDevice(ctx context.Context, deviceID string) (map[string]any, error)
	DeleteDevice(ctx context.Context, deviceID string) error
}

// IdentityStore persists the paired-device identifier. It is read at most
// once per cold start and written only here.
type IdentityStore interface {
	PairedDeviceID(ctx context.Context) (string, error)
	SetPairedDeviceID(ctx context.Context, id string) error
	ClearPairedDeviceID(ctx context.Context) error
}

// Manager orchestrates the connection lifecycle.
type Manager struct {
	ble       transport.Transport
	classic   transport.Transport // may be nil
	registry  *registry.Registry
	registrar Registrar
	ids       IdentityStore
	mirror    *state.Mirror
	notify    transport.NotifyFunc
	logger    *logrus.Logger

	// connectMu serializes the whole teardown-connect-subscribe-assign
	// sequence so overlapping calls can never each hold a subscription.
	connectMu sync.Mutex

	mu      sync.Mutex
	conn    transport.Connection
	current *state.ConnectedDevice
}

// New creates a manager. notify receives every payload from the standing
// subscription (wired to the router).
func New(ble, classic transport.Transport, reg *registry.Registry, registrar Registrar,
	ids IdentityStore, mirror *state.Mirror, notify transport.NotifyFunc, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	return &Manager{
		ble:       ble,
		classic:   classic,
		registry:  reg,
		registrar: registrar,
		ids:       ids,
		mirror:    mirror,
		notify:    notify,
		logger:    logger,
	}
}

// Current returns the authoritative paired device, nil when none.
func (m *Manager) Current() *state.ConnectedDevice {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	d := *m.current
	return &d
}

// CurrentDeviceID returns the paired device identifier, "" when none.
func (m *Manager) CurrentDeviceID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return ""
	}
	return m.current.DeviceID
}

// checkPreconditions verifies, in order, that (a) required permissions are
// granted and (b) the radio is powered on. Either failure aborts before any
// transport call, with a distinguishable reason and the raw radio state.
func (m *Manager) checkPreconditions(ctx context.Context, t transport.Transport) error {
	st, err := t.State(ctx)
	if err != nil {
		return &transport.Error{
			Reason:     transport.RadioDisabled,
			Transport:  t.Kind(),
			RadioState: transport.RadioUnknown,
			Cause:      err,
		}
	}
	switch st {
	case transport.RadioUnauthorized:
		return &transport.Error{
			Reason:     transport.PermissionDenied,
			Transport:  t.Kind(),
			RadioState: st,
			Msg:        "bluetooth permission not granted",
		}
	case transport.RadioPoweredOn:
		return nil
	default:
		return &transport.Error{
			Reason:     transport.RadioDisabled,
			Transport:  t.Kind(),
			RadioState: st,
			Msg:        "bluetooth is not powered on",
		}
	}
}

// Connect pairs with the candidate: precondition checks, transport connect,
// characteristic discovery, standing subscription, identifier persistence,
// backend registration, mirror update.
//
// Calling Connect for the already-connected id returns the existing device.
// A different id tears the previous subscription down first. On
// ErrRegistrationDegraded the returned device is valid and connected.
func (m *Manager) Connect(ctx context.Context, candidateID string) (*state.ConnectedDevice, error) {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	m.mu.Lock()
	if m.current != nil && m.current.ID == candidateID && m.conn != nil {
		dev := *m.current
		m.mu.Unlock()
		m.logger.WithField("id", candidateID).Debug("Already connected, no-op")
		return &dev, nil
	}
	m.mu.Unlock()

	// Preconditions run before any transport call. The subscription always
	// rides BLE, so its radio is checked regardless of candidate kind.
	if err := m.checkPreconditions(ctx, m.ble); err != nil {
		return nil, err
	}

	candidate, known := transport.Candidate{ID: candidateID, Kind: transport.KindBLE}, false
	if m.registry != nil {
		if c, ok := m.registry.Lookup(candidateID); ok {
			candidate, known = c, true
		}
	}
	if candidate.Kind == transport.KindClassic && m.classic != nil {
		if err := m.checkPreconditions(ctx, m.classic); err != nil {
			return nil, err
		}
	}

	// One standing subscription at a time: drop the previous link first.
	m.teardown()

	// A Classic candidate bonds over Classic first; the notification
	// subscription is then opened over BLE against the same dual-mode
	// address. The Classic link itself is not held open.
	if candidate.Kind == transport.KindClassic && m.classic != nil && !candidate.Bonded {
		bond, err := m.classic.Connect(ctx, candidateID)
		if err != nil {
			return nil, err
		}
		if err := bond.Close(); err != nil {
			m.logger.WithField("error", err).Debug("Classic bond link close failed")
		}
	}

	conn, err := m.ble.Connect(ctx, candidateID)
	if err != nil {
		return nil, err
	}
	if err := conn.Subscribe(m.notify); err != nil {
		_ = conn.Close()
		return nil, err
	}

	dev := &state.ConnectedDevice{
		ID:       candidateID,
		Name:     candidate.Name,
		DeviceID: candidateID,
		PairedAt: time.Now(),
	}
	if !known {
		dev.Name = "Kavach Band"
	}

	// The identifier is durable so the next launch can resubscribe without
	// rescanning and incident submissions stay keyed consistently.
	if err := m.ids.SetPairedDeviceID(ctx, candidateID); err != nil {
		m.logger.WithField("error", err).Error("Failed to persist device identifier")
	}

	m.mu.Lock()
	m.conn = conn
	m.current = dev
	m.mu.Unlock()
	m.mirror.SetDevice(dev)
	m.mirror.SetConnection(true, true)

	// Backend registration last: a failure here degrades but never undoes
	// the radio connection or the persisted identifier.
	meta, err := m.registrar.RegisterDevice(ctx, candidateID)
	if err != nil {
		m.logger.WithFields(logrus.Fields{
			"id":    candidateID,
			"error": err,
		}).Warn("Device registration failed, device usable locally")
		result := *dev
		return &result, fmt.Errorf("%w: %w", ErrRegistrationDegraded, err)
	}

	m.mu.Lock()
	m.current.Registration = meta
	dev = m.current
	result := *dev
	m.mu.Unlock()
	m.mirror.SetDevice(&result)

	m.logger.WithField("id", candidateID).Info("Device paired and registered")
	return &result, nil
}

// teardown closes the active link, if any, and flips the mirror flags.
// Independent dispatches already in flight run to completion.
func (m *Manager) teardown() {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()
	if conn == nil {
		return
	}
	if err := conn.Close(); err != nil {
		m.logger.WithField("error", err).Warn("Subscription teardown reported errors")
	}
	m.mirror.SetConnection(false, false)
}

// Disconnect tears down the subscription but keeps the persisted identifier
// and the known-device state.
func (m *Manager) Disconnect() {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()
	m.teardown()
	m.logger.Info("Disconnected from device")
}

// Forget removes the device entirely: teardown, persisted-identifier clear,
// backend deregistration. The backend call is best-effort; local removal
// always proceeds.
func (m *Manager) Forget(ctx context.Context) error {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	m.mu.Lock()
	var id string
	if m.current != nil {
		id = m.current.DeviceID
	}
	m.current = nil
	m.mu.Unlock()

	if id == "" {
		// Not connected this session; the persisted identifier still
		// names the device to deregister.
		if stored, err := m.ids.PairedDeviceID(ctx); err == nil {
			id = stored
		}
	}

	m.teardown()
	m.mirror.SetDevice(nil)

	if err := m.ids.ClearPairedDeviceID(ctx); err != nil {
		return fmt.Errorf("clear persisted identifier: %w", err)
	}
	if id != "" {
		if err := m.registrar.DeleteDevice(ctx, id); err != nil {
			m.logger.WithField("error", err).Warn("Backend device removal failed")
			return err
		}
	}
	return nil
}

// Reconnect re-establishes the subscription from the persisted identifier
// without rescanning. Called once per cold start; failure is non-fatal and
// leaves the app disconnected-but-known.
func (m *Manager) Reconnect(ctx context.Context) (*state.ConnectedDevice, error) {
	id, err := m.ids.PairedDeviceID(ctx)
	if err != nil {
		return nil, fmt.Errorf("read persisted identifier: %w", err)
	}
	if id == "" {
		return nil, ErrNoPersistedDevice
	}

	known := &state.ConnectedDevice{ID: id, Name: "Kavach Band", DeviceID: id}

	var dev *state.ConnectedDevice
	operation := func() error {
		d, err := m.Connect(ctx, id)
		if errors.Is(err, ErrRegistrationDegraded) {
			dev = d
			return nil
		}
		if err != nil {
			// Precondition failures will not clear up on their own within
			// the retry budget.
			if transport.IsReason(err, transport.PermissionDenied) ||
				transport.IsReason(err, transport.RadioDisabled) {
				return backoff.Permanent(err)
			}
			return err
		}
		dev = d
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		// Disconnected but known: the UI can still show the paired device
		// and offer a manual retry.
		m.mu.Lock()
		m.current = known
		m.mu.Unlock()
		m.mirror.SetDevice(known)
		m.mirror.SetConnection(false, false)
		m.logger.WithFields(logrus.Fields{
			"id":    id,
			"error": err,
		}).Warn("Reconnect failed, device known but disconnected")
		return nil, err
	}
	return dev, nil
}
