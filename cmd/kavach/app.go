package main

import (
	"context"
	"path/filepath"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kavach/kavach/internal/backend"
	"github.com/kavach/kavach/internal/connmgr"
	"github.com/kavach/kavach/internal/dispatch"
	"github.com/kavach/kavach/internal/registry"
	"github.com/kavach/kavach/internal/router"
	"github.com/kavach/kavach/internal/state"
	"github.com/kavach/kavach/internal/store"
	"github.com/kavach/kavach/internal/transport"
	"github.com/kavach/kavach/internal/transport/ble"
	"github.com/kavach/kavach/internal/transport/classic"
	"github.com/kavach/kavach/pkg/config"
)

// app wires the full pipeline for one CLI invocation.
type app struct {
	cfg        *config.Config
	logger     *logrus.Logger
	store      *store.Store
	backend    *backend.Client
	mirror     *state.Mirror
	registry   *registry.Registry
	manager    *connmgr.Manager
	router     *router.Router
	dispatcher *dispatch.Dispatcher

	// foreground mimics the app lifecycle state: set while a monitor
	// screen is attached.
	foreground atomic.Bool
	geo        *dispatch.GeoIPProvider
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	logger, err := configureLogger(cmd, cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	dataDir, err := cfg.ResolveDataDir()
	if err != nil {
		return nil, err
	}
	key, err := store.LoadOrCreateKey(filepath.Join(dataDir, "kavach.key"))
	if err != nil {
		return nil, err
	}
	box, err := store.NewSecretBox(key)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(filepath.Join(dataDir, "kavach.db"), box)
	if err != nil {
		return nil, err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := st.InitSchema(ctx); err != nil {
		st.Close()
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, store: st}

	a.backend = backend.New(cfg.BackendURL, logger)
	a.backend.OnUnauthorized(func() {
		logger.Warn("Session expired, clearing stored credentials")
		if err := st.ClearAuth(context.Background()); err != nil {
			logger.WithField("error", err).Error("Failed to clear auth session")
		}
	})
	if sess, err := st.LoadAuth(ctx); err == nil && sess != nil {
		a.backend.SetToken(sess.Token)
	}

	a.mirror = state.NewMirror()
	if incidents, err := st.Incidents(ctx); err == nil && len(incidents) > 0 {
		a.mirror.ReplaceIncidents(incidents)
	}

	bleT := ble.New(&ble.Options{
		ServiceUUID:    cfg.ServiceUUID,
		NotifyUUID:     cfg.NotifyUUID,
		ConnectTimeout: cfg.ConnectTimeout,
	}, logger)
	classicT := classic.New(nil, logger)
	a.registry = registry.New([]transport.Transport{bleT, classicT}, logger)

	var loc dispatch.LocationProvider
	if cfg.GeoIPDatabase != "" {
		geo, err := dispatch.NewGeoIPProvider(cfg.GeoIPDatabase)
		if err != nil {
			logger.WithField("error", err).Warn("GeoIP database unavailable, dispatch will use sentinel coordinates")
		} else {
			a.geo = geo
			loc = geo
		}
	}
	a.dispatcher = dispatch.New(loc, a.backend, st, a.mirror, logger)

	lifecycle := func() router.AppState {
		if a.foreground.Load() {
			return router.Foreground
		}
		return router.Background
	}
	a.router = router.New(a.mirror, a.dispatcher, lifecycle,
		dispatch.ExecNotifier{Logger: logger},
		func() string { return a.manager.CurrentDeviceID() }, logger)

	a.manager = connmgr.New(bleT, classicT, a.registry, a.backend, st,
		a.mirror, a.router.OnNotification, logger)

	return a, nil
}

func (a *app) close() {
	if a.geo != nil {
		a.geo.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
}

// sessionOptions maps config windows onto a registry session.
func (a *app) sessionOptions(wearableOnly bool) *registry.SessionOptions {
	if wearableOnly {
		return &registry.SessionOptions{
			Window:     a.cfg.WearableWindow,
			NameFilter: a.cfg.WearableName,
		}
	}
	return &registry.SessionOptions{Window: a.cfg.ScanWindow}
}
