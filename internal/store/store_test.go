package store_test

import (
	"context"
	"crypto/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/kavach/kavach/internal/state"
	"github.com/kavach/kavach/internal/store"
)

type StoreSuite struct {
	suite.Suite
	store *store.Store
	ctx   context.Context
}

func (s *StoreSuite) SetupTest() {
	s.ctx = context.Background()

	key := make([]byte, 32)
	_, err := rand.Read(key)
	s.Require().NoError(err)
	box, err := store.NewSecretBox(key)
	s.Require().NoError(err)

	st, err := store.Open(filepath.Join(s.T().TempDir(), "kavach.db"), box)
	s.Require().NoError(err)
	s.Require().NoError(st.InitSchema(s.ctx))
	s.store = st
}

func (s *StoreSuite) TearDownTest() {
	s.Require().NoError(s.store.Close())
}

func (s *StoreSuite) TestPairedDeviceIDRoundtrip() {
	id, err := s.store.PairedDeviceID(s.ctx)
	s.Require().NoError(err)
	s.Require().Empty(id)

	s.Require().NoError(s.store.SetPairedDeviceID(s.ctx, "band-001"))
	id, err = s.store.PairedDeviceID(s.ctx)
	s.Require().NoError(err)
	s.Require().Equal("band-001", id)

	// Overwrite, not append.
	s.Require().NoError(s.store.SetPairedDeviceID(s.ctx, "band-002"))
	id, err = s.store.PairedDeviceID(s.ctx)
	s.Require().NoError(err)
	s.Require().Equal("band-002", id)

	s.Require().NoError(s.store.ClearPairedDeviceID(s.ctx))
	id, err = s.store.PairedDeviceID(s.ctx)
	s.Require().NoError(err)
	s.Require().Empty(id)
}

func (s *StoreSuite) TestAuthSessionRoundtrip() {
	sess, err := s.store.LoadAuth(s.ctx)
	s.Require().NoError(err)
	s.Require().Nil(sess)

	in := &store.AuthSession{
		Token: "tok-123",
		User:  map[string]any{"name": "asha", "email": "a@b.c"},
	}
	s.Require().NoError(s.store.SaveAuth(s.ctx, in))

	out, err := s.store.LoadAuth(s.ctx)
	s.Require().NoError(err)
	s.Require().Equal("tok-123", out.Token)
	s.Require().Equal("asha", out.User["name"])

	s.Require().NoError(s.store.ClearAuth(s.ctx))
	out, err = s.store.LoadAuth(s.ctx)
	s.Require().NoError(err)
	s.Require().Nil(out)
}

func (s *StoreSuite) TestIncidentsMostRecentFirst() {
	base := time.Now().Truncate(time.Millisecond)
	for i, id := range []string{"a", "b", "c"} {
		s.Require().NoError(s.store.AppendIncident(s.ctx, state.Incident{
			ID:          id,
			TriggeredAt: base.Add(time.Duration(i) * time.Second),
			Mode:        "Loud",
			DeviceID:    "band-001",
			DeviceInfo:  "test host",
		}))
	}

	list, err := s.store.Incidents(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(list, 3)
	s.Require().Equal("c", list[0].ID)
	s.Require().Equal("b", list[1].ID)
	s.Require().Equal("a", list[2].ID)
}

func (s *StoreSuite) TestIncidentRoundtripFields() {
	at := time.Now().Truncate(time.Millisecond)
	in := state.Incident{
		ID:          "inc-1",
		TriggeredAt: at,
		Latitude:    12.97,
		Longitude:   77.59,
		Mode:        "Loud",
		DeviceID:    "band-001",
		DeviceInfo:  "test host",
		IP:          "203.0.113.9",
	}
	s.Require().NoError(s.store.AppendIncident(s.ctx, in))

	list, err := s.store.Incidents(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(list, 1)
	got := list[0]
	s.Require().Equal(in.ID, got.ID)
	s.Require().True(at.Equal(got.TriggeredAt))
	s.Require().Equal(in.Latitude, got.Latitude)
	s.Require().Equal(in.Longitude, got.Longitude)
	s.Require().Equal(in.IP, got.IP)
	s.Require().False(got.Submitted)
}

func (s *StoreSuite) TestMarkSubmitted() {
	s.Require().NoError(s.store.AppendIncident(s.ctx, state.Incident{
		ID: "inc-1", TriggeredAt: time.Now(), Mode: "Loud",
		DeviceID: "band-001", DeviceInfo: "test host",
	}))

	s.Require().NoError(s.store.MarkSubmitted(s.ctx, "inc-1", "ALERT_SENT", 3))

	list, err := s.store.Incidents(s.ctx)
	s.Require().NoError(err)
	s.Require().True(list[0].Submitted)
	s.Require().Equal("ALERT_SENT", list[0].Status)
	s.Require().Equal(3, list[0].ContactsAlerted)
}

func (s *StoreSuite) TestDeleteIncident() {
	s.Require().NoError(s.store.AppendIncident(s.ctx, state.Incident{
		ID: "inc-1", TriggeredAt: time.Now(), Mode: "Loud",
		DeviceID: "band-001", DeviceInfo: "test host",
	}))
	s.Require().NoError(s.store.DeleteIncident(s.ctx, "inc-1"))

	list, err := s.store.Incidents(s.ctx)
	s.Require().NoError(err)
	s.Require().Empty(list)
}

func (s *StoreSuite) TestClearAll() {
	s.Require().NoError(s.store.SetPairedDeviceID(s.ctx, "band-001"))
	s.Require().NoError(s.store.SaveAuth(s.ctx, &store.AuthSession{Token: "t"}))
	s.Require().NoError(s.store.AppendIncident(s.ctx, state.Incident{
		ID: "inc-1", TriggeredAt: time.Now(), Mode: "Loud",
		DeviceID: "band-001", DeviceInfo: "test host",
	}))

	s.Require().NoError(s.store.ClearAll(s.ctx))

	id, err := s.store.PairedDeviceID(s.ctx)
	s.Require().NoError(err)
	s.Require().Empty(id)
	sess, err := s.store.LoadAuth(s.ctx)
	s.Require().NoError(err)
	s.Require().Nil(sess)
	list, err := s.store.Incidents(s.ctx)
	s.Require().NoError(err)
	s.Require().Empty(list)
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreSuite))
}

func TestSaveAuthWithoutBoxFails(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "kavach.db"), nil)
	require.NoError(t, err)
	defer st.Close()
	require.NoError(t, st.InitSchema(context.Background()))

	err = st.SaveAuth(context.Background(), &store.AuthSession{Token: "t"})
	require.Error(t, err)
}
