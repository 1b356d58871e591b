// Package dispatch runs the emergency workflow: best-effort location,
// device metadata, local-first incident recording, backend submission, and
// user feedback.
//
// The local incident record always lands before the backend call is
// attempted; network failure degrades the outcome message but never undoes
// or retries anything.
package dispatch

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/kavach/kavach/internal/backend"
	"github.com/kavach/kavach/internal/state"
)

// ModeLoud is the fixed incident classification submitted with every SOS.
const ModeLoud = "Loud"

// TriggerAPI is the backend surface the dispatcher needs.
type TriggerAPI interface {
	Trigger(ctx context.Context, req backend.TriggerRequest) (*backend.TriggerResponse, error)
}

// IncidentStore is the durable surface the dispatcher needs.
type IncidentStore interface {
	AppendIncident(ctx context.Context, inc state.Incident) error
	MarkSubmitted(ctx context.Context, id, status string, contactsAlerted int) error
}

// Outcome is the user-facing result of one dispatch.
type Outcome struct {
	Incident state.Incident
	// Sent is true when the backend acknowledged the submission. False
	// means the incident was saved locally but not sent.
	Sent    bool
	Message string
}

// Reporter surfaces an outcome to the user. The foreground path installs a
// screen-backed reporter; the background path a notification-backed one.
type Reporter func(Outcome)

// Dispatcher executes the fixed emergency sequence. Safe for concurrent
// dispatches: each invocation is independent and produces its own incident.
type Dispatcher struct {
	location LocationProvider
	api      TriggerAPI
	store    IncidentStore
	mirror   *state.Mirror
	logger   *logrus.Logger

	deviceInfo func() string
	ip         func() string
	now        func() time.Time
}

// New creates a dispatcher. location may be nil (sentinel coordinates).
func New(location LocationProvider, api TriggerAPI, store IncidentStore, mirror *state.Mirror, logger *logrus.Logger) *Dispatcher {
	if logger == nil {
		logger = logrus.New()
	}
	return &Dispatcher{
		location:   location,
		api:        api,
		store:      store,
		mirror:     mirror,
		logger:     logger,
		deviceInfo: hostDeviceInfo,
		ip:         originatingIP,
		now:        time.Now,
	}
}

// Dispatch runs the emergency workflow for the given device identifier and
// returns the incident. It never returns an error: every failure mode
// degrades to a locally recorded incident with an honest outcome message.
func (d *Dispatcher) Dispatch(ctx context.Context, deviceID string, report Reporter) state.Incident {
	correlation := uuid.NewString()
	log := d.logger.WithFields(logrus.Fields{
		"dispatch_id": correlation,
		"device_id":   deviceID,
	})
	log.Warn("Emergency dispatch started")

	// 1. Best-effort location; never blocks past the timeout, never fails.
	fix := bestEffortFix(ctx, d.location, d.logger)

	// 2. Best-effort device metadata.
	info := d.deviceInfo()
	if info == "" {
		info = fallbackDeviceInfo
	}

	// 3. Local record first. Durability never depends on the network.
	triggeredAt := d.now()
	inc := state.Incident{
		ID:          newIncidentID(triggeredAt),
		TriggeredAt: triggeredAt,
		Latitude:    fix.Latitude,
		Longitude:   fix.Longitude,
		Mode:        ModeLoud,
		DeviceID:    deviceID,
		DeviceInfo:  info,
		IP:          d.ip(),
	}
	d.mirror.AppendIncident(inc)
	if err := d.store.AppendIncident(ctx, inc); err != nil {
		// The in-memory record stands even if the disk write failed.
		log.WithField("error", err).Error("Failed to persist incident locally")
	}

	// 4. Single backend submission, no automatic retry.
	resp, err := d.api.Trigger(ctx, backend.TriggerRequest{
		Latitude:   inc.Latitude,
		Longitude:  inc.Longitude,
		DeviceID:   inc.DeviceID,
		DeviceInfo: inc.DeviceInfo,
	})
	if err != nil {
		log.WithField("error", err).Warn("Emergency submission failed, incident kept locally")
		if report != nil {
			report(Outcome{
				Incident: inc,
				Sent:     false,
				Message:  "Emergency saved locally, not sent. Check your connection.",
			})
		}
		return inc
	}

	// 5. Acknowledged: enrich the record and report success.
	inc.Submitted = true
	inc.Status = resp.Status
	inc.ContactsAlerted = resp.ContactsAlerted
	d.mirror.MarkSubmitted(inc.ID, resp.Status, resp.ContactsAlerted)
	if err := d.store.MarkSubmitted(ctx, inc.ID, resp.Status, resp.ContactsAlerted); err != nil {
		log.WithField("error", err).Warn("Failed to mark incident submitted")
	}

	msg := resp.Message
	if msg == "" {
		msg = "Emergency sent."
	}
	log.WithField("message", msg).Warn("Emergency dispatch completed")
	if report != nil {
		report(Outcome{Incident: inc, Sent: true, Message: msg})
	}
	return inc
}

// newIncidentID builds a time-based unique id: millisecond timestamp plus a
// short random suffix so rapid repeated triggers never collide.
func newIncidentID(at time.Time) string {
	var buf [2]byte
	if _, err := rand.Read(buf[:]); err != nil {
		binary.BigEndian.PutUint16(buf[:], uint16(at.UnixNano()))
	}
	return fmt.Sprintf("%d-%04x", at.UnixMilli(), binary.BigEndian.Uint16(buf[:]))
}
