// Package ble adapts the go-ble radio API to the transport capability
// surface: radio-state query, candidate scan, connect with characteristic
// discovery, and the standing notification subscription.
package ble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	blelib "github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/kavach/kavach/internal/transport"
)

// Wearable GATT layout. The Kavach band exposes a single vendor service
// whose notify characteristic carries the signal codes.
const (
	DefaultServiceUUID = "ffe0"
	DefaultNotifyUUID  = "ffe1"
)

// DeviceFactory creates blelib.Device instances (overridable in tests).
var DeviceFactory = newPlatformDevice

// Options configures the adapter.
type Options struct {
	ServiceUUID    string
	NotifyUUID     string
	ConnectTimeout time.Duration
}

// DefaultOptions returns the vendor GATT layout with a 30s connect timeout.
func DefaultOptions() *Options {
	return &Options{
		ServiceUUID:    DefaultServiceUUID,
		NotifyUUID:     DefaultNotifyUUID,
		ConnectTimeout: 30 * time.Second,
	}
}

// Adapter is the BLE transport.
type Adapter struct {
	opts   *Options
	logger *logrus.Logger

	mu  sync.Mutex
	dev blelib.Device
}

// New creates a BLE adapter.
func New(opts *Options, logger *logrus.Logger) *Adapter {
	if opts == nil {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Adapter{opts: opts, logger: logger}
}

// Kind implements transport.Transport.
func (a *Adapter) Kind() transport.Kind { return transport.KindBLE }

// device returns the shared radio handle, creating it on first use.
func (a *Adapter) device() (blelib.Device, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.dev != nil {
		return a.dev, nil
	}
	dev, err := DeviceFactory()
	if err != nil {
		return nil, err
	}
	blelib.SetDefaultDevice(dev)
	a.dev = dev
	return dev, nil
}

// State reports the radio power state by probing the platform device.
func (a *Adapter) State(ctx context.Context) (transport.RadioState, error) {
	_ = ctx
	if _, err := a.device(); err != nil {
		return classifyRadioState(err), nil
	}
	return transport.RadioPoweredOn, nil
}

// classifyRadioState maps platform device-creation errors to radio states.
// The platform reports an invalid central-manager state with the numeric
// state embedded in the message (3 = unauthorized, 4 = powered off).
func classifyRadioState(err error) transport.RadioState {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "have=4"), strings.Contains(msg, "powered off"):
		return transport.RadioPoweredOff
	case strings.Contains(msg, "have=3"), strings.Contains(msg, "unauthorized"),
		strings.Contains(msg, "permission"), strings.Contains(msg, "not permitted"):
		return transport.RadioUnauthorized
	default:
		return transport.RadioUnknown
	}
}

// Scan implements transport.Transport. It runs until ctx is done; a
// deadline or cancellation ends the scan window normally.
func (a *Adapter) Scan(ctx context.Context, fn transport.CandidateFunc) error {
	dev, err := a.device()
	if err != nil {
		return a.radioError(err)
	}

	a.logger.Debug("Starting BLE scan")
	err = dev.Scan(ctx, false, func(adv blelib.Advertisement) {
		rssi := adv.RSSI()
		fn(transport.Candidate{
			ID:   adv.Addr().String(),
			Name: adv.LocalName(),
			Kind: transport.KindBLE,
			RSSI: &rssi,
		})
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return &transport.Error{
			Reason:    transport.ScanFailed,
			Transport: transport.KindBLE,
			Msg:       "scan failed",
			Cause:     err,
		}
	}
	return nil
}

// Connect dials the candidate, discovers the vendor service and notify
// characteristic, and returns the live connection.
func (a *Adapter) Connect(ctx context.Context, id string) (transport.Connection, error) {
	if strings.TrimSpace(id) == "" {
		return nil, &transport.Error{
			Reason:    transport.ConnectFailed,
			Transport: transport.KindBLE,
			Msg:       "device address is not set",
		}
	}

	if _, err := a.device(); err != nil {
		return nil, a.radioError(err)
	}

	connCtx, cancel := context.WithTimeout(ctx, a.opts.ConnectTimeout)
	defer cancel()

	a.logger.WithField("address", id).Info("Connecting to BLE device")
	client, err := blelib.Dial(connCtx, blelib.NewAddr(id))
	if err != nil {
		return nil, &transport.Error{
			Reason:    transport.ConnectFailed,
			Transport: transport.KindBLE,
			Msg:       fmt.Sprintf("failed to connect to %q", id),
			Cause:     err,
		}
	}

	profile, err := client.DiscoverProfile(true)
	if err != nil {
		client.CancelConnection()
		return nil, &transport.Error{
			Reason:    transport.ConnectFailed,
			Transport: transport.KindBLE,
			Msg:       "failed to discover profile",
			Cause:     err,
		}
	}

	notifyChar := findCharacteristic(profile, a.opts.ServiceUUID, a.opts.NotifyUUID)
	if notifyChar == nil {
		client.CancelConnection()
		return nil, &transport.Error{
			Reason:    transport.ConnectFailed,
			Transport: transport.KindBLE,
			Msg: fmt.Sprintf("notify characteristic %s not found in service %s",
				a.opts.NotifyUUID, a.opts.ServiceUUID),
		}
	}

	a.logger.WithFields(logrus.Fields{
		"address":  id,
		"services": len(profile.Services),
	}).Info("BLE device connected")

	return &connection{
		id:         id,
		client:     client,
		notifyChar: notifyChar,
		logger:     a.logger,
	}, nil
}

// radioError wraps a platform device-creation failure into the taxonomy.
func (a *Adapter) radioError(err error) error {
	state := classifyRadioState(err)
	reason := transport.RadioDisabled
	if state == transport.RadioUnauthorized {
		reason = transport.PermissionDenied
	}
	return &transport.Error{
		Reason:     reason,
		Transport:  transport.KindBLE,
		RadioState: state,
		Cause:      err,
	}
}

// normalizeUUID lowercases and strips dashes so lookups match the internal
// BLE library format.
func normalizeUUID(uuid string) string {
	return strings.ToLower(strings.ReplaceAll(uuid, "-", ""))
}

func findCharacteristic(profile *blelib.Profile, serviceUUID, charUUID string) *blelib.Characteristic {
	wantSvc := normalizeUUID(serviceUUID)
	wantChar := normalizeUUID(charUUID)
	for _, svc := range profile.Services {
		if normalizeUUID(svc.UUID.String()) != wantSvc {
			continue
		}
		for _, char := range svc.Characteristics {
			if normalizeUUID(char.UUID.String()) == wantChar {
				return char
			}
		}
	}
	return nil
}

// connection is a live BLE link with its standing subscription.
type connection struct {
	id         string
	client     blelib.Client
	notifyChar *blelib.Characteristic
	logger     *logrus.Logger

	mu         sync.Mutex
	subscribed bool
	closed     bool
}

func (c *connection) ID() string { return c.id }

// Subscribe opens the standing notification subscription. The radio stack
// delivers notifications in emission order; fn is invoked from the radio
// callback and must not block.
func (c *connection) Subscribe(fn transport.NotifyFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return &transport.Error{
			Reason:    transport.ConnectFailed,
			Transport: transport.KindBLE,
			Msg:       "connection is closed",
		}
	}
	if c.subscribed {
		return &transport.Error{
			Reason:    transport.ConnectFailed,
			Transport: transport.KindBLE,
			Msg:       "already subscribed",
		}
	}

	if c.notifyChar.Property&blelib.CharNotify == 0 && c.notifyChar.Property&blelib.CharIndicate == 0 {
		return &transport.Error{
			Reason:    transport.ConnectFailed,
			Transport: transport.KindBLE,
			Msg:       "characteristic does not support notifications",
		}
	}

	if err := c.client.Subscribe(c.notifyChar, false, func(data []byte) {
		// go-ble reuses the data buffer; hand subscribers their own copy.
		buf := make([]byte, len(data))
		copy(buf, data)
		fn(buf)
	}); err != nil {
		return &transport.Error{
			Reason:    transport.ConnectFailed,
			Transport: transport.KindBLE,
			Msg:       "failed to subscribe to notifications",
			Cause:     err,
		}
	}

	c.subscribed = true
	c.logger.WithField("address", c.id).Info("Subscribed to notification characteristic")
	return nil
}

// Close unsubscribes and tears down the link. Safe to call more than once.
func (c *connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	subscribed := c.subscribed
	c.subscribed = false
	client := c.client
	c.mu.Unlock()

	if subscribed {
		// Try both notify and indicate modes; failure of one is fine.
		err1 := client.Unsubscribe(c.notifyChar, false)
		err2 := client.Unsubscribe(c.notifyChar, true)
		if err1 != nil && err2 != nil {
			c.logger.WithFields(logrus.Fields{
				"address":     c.id,
				"notifyErr":   err1,
				"indicateErr": err2,
			}).Warn("Failed to unsubscribe during disconnect")
		}
	}

	err := client.CancelConnection()
	if err != nil {
		c.logger.WithField("error", err).Warn("BLE device disconnected with errors")
	} else {
		c.logger.WithField("address", c.id).Info("BLE device disconnected")
	}
	return err
}
