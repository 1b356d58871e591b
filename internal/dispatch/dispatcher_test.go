package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/kavach/kavach/internal/backend"
	"github.com/kavach/kavach/internal/state"
)

type fakeTriggerAPI struct {
	mu    sync.Mutex
	reqs  []backend.TriggerRequest
	resp  *backend.TriggerResponse
	err   error
	calls int
}

func (f *fakeTriggerAPI) Trigger(ctx context.Context, req backend.TriggerRequest) (*backend.TriggerResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

type fakeIncidentStore struct {
	mu        sync.Mutex
	appended  []state.Incident
	submitted []string
	appendErr error
}

func (f *fakeIncidentStore) AppendIncident(ctx context.Context, inc state.Incident) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appended = append(f.appended, inc)
	return f.appendErr
}

func (f *fakeIncidentStore) MarkSubmitted(ctx context.Context, id, status string, contactsAlerted int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, id)
	return nil
}

func newTestDispatcher(loc LocationProvider, api TriggerAPI, st IncidentStore, mirror *state.Mirror) *Dispatcher {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	d := New(loc, api, st, mirror, logger)
	d.deviceInfo = func() string { return "test host" }
	d.ip = func() string { return "203.0.113.9" }
	return d
}

func TestDispatchSuccess(t *testing.T) {
	api := &fakeTriggerAPI{resp: &backend.TriggerResponse{
		Message: "Alert sent to 2 contacts", Status: "ALERT_SENT", ContactsAlerted: 2,
	}}
	st := &fakeIncidentStore{}
	mirror := state.NewMirror()
	loc := LocationFunc(func(ctx context.Context) (Fix, error) {
		return Fix{Latitude: 12.97, Longitude: 77.59}, nil
	})

	var outcome Outcome
	d := newTestDispatcher(loc, api, st, mirror)
	inc := d.Dispatch(context.Background(), "band-001", func(o Outcome) { outcome = o })

	require.True(t, inc.Submitted)
	require.Equal(t, "ALERT_SENT", inc.Status)
	require.Equal(t, 2, inc.ContactsAlerted)
	require.Equal(t, ModeLoud, inc.Mode)
	require.Equal(t, 12.97, inc.Latitude)
	require.Equal(t, "band-001", inc.DeviceID)

	require.True(t, outcome.Sent)
	require.Equal(t, "Alert sent to 2 contacts", outcome.Message)

	require.Equal(t, 1, api.calls)
	require.Equal(t, "band-001", api.reqs[0].DeviceID)
	require.Equal(t, "test host", api.reqs[0].DeviceInfo)

	snap := mirror.Snapshot()
	require.Len(t, snap.Incidents, 1)
	require.True(t, snap.Incidents[0].Submitted)
	require.Equal(t, []string{inc.ID}, st.submitted)
}

func TestDispatchBackendFailureKeepsLocalRecord(t *testing.T) {
	api := &fakeTriggerAPI{err: errors.New("connection refused")}
	st := &fakeIncidentStore{}
	mirror := state.NewMirror()

	var outcome Outcome
	d := newTestDispatcher(nil, api, st, mirror)
	inc := d.Dispatch(context.Background(), "band-001", func(o Outcome) { outcome = o })

	// Exactly one attempt, no retry.
	require.Equal(t, 1, api.calls)

	// The incident was recorded locally before the network failed.
	require.Len(t, st.appended, 1)
	require.Equal(t, inc.ID, st.appended[0].ID)
	snap := mirror.Snapshot()
	require.Len(t, snap.Incidents, 1)
	require.False(t, snap.Incidents[0].Submitted)
	require.Empty(t, st.submitted)

	require.False(t, outcome.Sent)
	require.Contains(t, outcome.Message, "saved locally")
}

func TestDispatchLocalWriteFailureStillSubmits(t *testing.T) {
	api := &fakeTriggerAPI{resp: &backend.TriggerResponse{Status: "ALERT_SENT"}}
	st := &fakeIncidentStore{appendErr: errors.New("disk full")}
	mirror := state.NewMirror()

	d := newTestDispatcher(nil, api, st, mirror)
	inc := d.Dispatch(context.Background(), "band-001", nil)

	require.True(t, inc.Submitted)
	require.Equal(t, 1, api.calls)
	// The in-memory record stands even though the disk write failed.
	require.Len(t, mirror.Snapshot().Incidents, 1)
}

func TestDispatchNilLocationUsesSentinel(t *testing.T) {
	api := &fakeTriggerAPI{resp: &backend.TriggerResponse{}}
	d := newTestDispatcher(nil, api, &fakeIncidentStore{}, state.NewMirror())

	inc := d.Dispatch(context.Background(), "band-001", nil)

	require.Zero(t, inc.Latitude)
	require.Zero(t, inc.Longitude)
	// Sentinel coordinates still go to the backend.
	require.Equal(t, 1, api.calls)
}

func TestBestEffortFixTimeout(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	slow := LocationFunc(func(ctx context.Context) (Fix, error) {
		<-ctx.Done()
		return Fix{Latitude: 99, Longitude: 99}, ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	fix := bestEffortFix(ctx, slow, logger)

	require.Zero(t, fix.Latitude)
	require.Zero(t, fix.Longitude)
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestBestEffortFixProviderError(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	failing := LocationFunc(func(ctx context.Context) (Fix, error) {
		return Fix{Latitude: 1}, errors.New("no signal")
	})

	fix := bestEffortFix(context.Background(), failing, logger)
	require.Zero(t, fix.Latitude)
}

func TestNewIncidentIDUnique(t *testing.T) {
	at := time.Now()
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		id := newIncidentID(at.Add(time.Duration(i) * time.Millisecond))
		require.False(t, seen[id], "duplicate incident id %s", id)
		seen[id] = true
	}
}
