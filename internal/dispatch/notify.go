package dispatch

import (
	"context"
	"os/exec"
	"time"

	"github.com/sirupsen/logrus"
)

// Notifier surfaces dispatch progress and outcome to the user when no
// screen is attached to show status.
type Notifier interface {
	Notify(title, body string)
}

// ExecNotifier posts desktop notifications through notify-send. Failures
// are logged and swallowed; a notification must never fail a dispatch.
type ExecNotifier struct {
	Logger *logrus.Logger
}

func (n ExecNotifier) Notify(title, body string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := exec.CommandContext(ctx, "notify-send", "--urgency=critical", title, body).Run(); err != nil {
		if n.Logger != nil {
			n.Logger.WithField("error", err).Debug("Desktop notification failed")
		}
	}
}

// NopNotifier discards notifications.
type NopNotifier struct{}

func (NopNotifier) Notify(string, string) {}
