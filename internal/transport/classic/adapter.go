// Package classic adapts Bluetooth Classic (BR/EDR) to the transport
// capability surface. There is no in-process Classic stack to link against,
// so the adapter drives the platform's bluetoothctl through a command
// runner; the runner is an interface so tests can substitute canned output.
//
// Classic carries bonding and discovery only. The wearable is dual-mode:
// after a Classic bond, the notification subscription is opened over BLE
// against the same address, which is why Subscribe on a Classic connection
// always fails; the connection manager routes around it.
package classic

import (
	"bufio"
	"context"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kavach/kavach/internal/transport"
)

// Runner executes a bluetoothctl invocation and returns its combined
// output. Injectable for tests.
type Runner interface {
	Run(ctx context.Context, args ...string) (string, error)
}

// ExecRunner shells out to the system bluetoothctl.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, "bluetoothctl", args...).CombinedOutput()
	return string(out), err
}

// Adapter is the Bluetooth Classic transport.
type Adapter struct {
	runner Runner
	logger *logrus.Logger
}

// New creates a Classic adapter. A nil runner uses the system bluetoothctl.
func New(runner Runner, logger *logrus.Logger) *Adapter {
	if runner == nil {
		runner = ExecRunner{}
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Adapter{runner: runner, logger: logger}
}

// Kind implements transport.Transport.
func (a *Adapter) Kind() transport.Kind { return transport.KindClassic }

// State parses `bluetoothctl show` for the controller power line.
func (a *Adapter) State(ctx context.Context) (transport.RadioState, error) {
	out, err := a.runner.Run(ctx, "show")
	if err != nil {
		if isPermissionOutput(out) || isPermissionOutput(err.Error()) {
			return transport.RadioUnauthorized, nil
		}
		return transport.RadioUnknown, nil
	}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "Powered:") {
			if strings.Contains(line, "yes") {
				return transport.RadioPoweredOn, nil
			}
			return transport.RadioPoweredOff, nil
		}
	}
	return transport.RadioUnknown, nil
}

func isPermissionOutput(s string) bool {
	s = strings.ToLower(s)
	return strings.Contains(s, "permission denied") ||
		strings.Contains(s, "not authorized") ||
		strings.Contains(s, "operation not permitted")
}

// Bonded returns the controller's paired device list.
func (a *Adapter) Bonded(ctx context.Context) ([]transport.Candidate, error) {
	out, err := a.runner.Run(ctx, "devices", "Paired")
	if err != nil {
		// Older bluetoothctl spells it differently.
		out, err = a.runner.Run(ctx, "paired-devices")
		if err != nil {
			return nil, &transport.Error{
				Reason:    transport.ScanFailed,
				Transport: transport.KindClassic,
				Msg:       "failed to list bonded devices",
				Cause:     err,
			}
		}
	}
	return parseDeviceLines(out, true), nil
}

// Scan surfaces bonded devices immediately, then runs inquiry discovery for
// the remainder of the scan window and emits anything newly found. Late
// results after ctx is done are dropped.
func (a *Adapter) Scan(ctx context.Context, fn transport.CandidateFunc) error {
	bonded, err := a.Bonded(ctx)
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(bonded))
	for _, c := range bonded {
		if ctx.Err() != nil {
			return nil
		}
		seen[c.ID] = true
		fn(c)
	}

	secs := 10
	if deadline, ok := ctx.Deadline(); ok {
		remaining := int(time.Until(deadline).Seconds())
		if remaining <= 0 {
			return nil
		}
		secs = remaining
	}

	a.logger.WithField("window_s", secs).Debug("Starting Classic inquiry")
	if out, err := a.runner.Run(ctx, "--timeout", strconv.Itoa(secs), "scan", "on"); err != nil && ctx.Err() == nil {
		if isPermissionOutput(out) {
			return &transport.Error{
				Reason:     transport.PermissionDenied,
				Transport:  transport.KindClassic,
				RadioState: transport.RadioUnauthorized,
				Cause:      err,
			}
		}
		return &transport.Error{
			Reason:    transport.ScanFailed,
			Transport: transport.KindClassic,
			Msg:       "inquiry failed",
			Cause:     err,
		}
	}
	if ctx.Err() != nil {
		return nil
	}

	out, err := a.runner.Run(ctx, "devices")
	if err != nil {
		return &transport.Error{
			Reason:    transport.ScanFailed,
			Transport: transport.KindClassic,
			Msg:       "failed to list discovered devices",
			Cause:     err,
		}
	}
	for _, c := range parseDeviceLines(out, false) {
		if ctx.Err() != nil {
			return nil
		}
		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		fn(c)
	}
	return nil
}

// Connect bonds with and connects to the device. The resulting connection
// carries no notification channel; see the package comment.
func (a *Adapter) Connect(ctx context.Context, id string) (transport.Connection, error) {
	out, err := a.runner.Run(ctx, "connect", id)
	if err != nil || !strings.Contains(out, "Connection successful") {
		return nil, &transport.Error{
			Reason:    transport.ConnectFailed,
			Transport: transport.KindClassic,
			Msg:       "failed to connect to " + id,
			Cause:     err,
		}
	}
	a.logger.WithField("address", id).Info("Classic device connected")
	return &connection{id: id, runner: a.runner, logger: a.logger}, nil
}

// parseDeviceLines parses bluetoothctl device listings of the form
// "Device AA:BB:CC:DD:EE:FF Some Name".
func parseDeviceLines(out string, bonded bool) []transport.Candidate {
	var result []transport.Candidate
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		fields := strings.SplitN(strings.TrimSpace(sc.Text()), " ", 3)
		if len(fields) < 2 || fields[0] != "Device" {
			continue
		}
		c := transport.Candidate{
			ID:     fields[1],
			Kind:   transport.KindClassic,
			Bonded: bonded,
		}
		if len(fields) == 3 {
			c.Name = fields[2]
		}
		result = append(result, c)
	}
	return result
}

type connection struct {
	id     string
	runner Runner
	logger *logrus.Logger

	mu     sync.Mutex
	closed bool
}

func (c *connection) ID() string { return c.id }

// Subscribe always fails: Classic carries no notification channel. The
// connection manager opens the subscription over BLE instead.
func (c *connection) Subscribe(fn transport.NotifyFunc) error {
	return &transport.Error{
		Reason:    transport.ConnectFailed,
		Transport: transport.KindClassic,
		Msg:       "classic transport carries no notification channel",
	}
}

func (c *connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := c.runner.Run(ctx, "disconnect", c.id); err != nil {
		c.logger.WithFields(logrus.Fields{"address": c.id, "error": err}).
			Warn("Classic device disconnected with errors")
		return err
	}
	c.logger.WithField("address", c.id).Info("Classic device disconnected")
	return nil
}
