package notifications

import (
	"log/slog"

	"github.com/gen2brain/beeep"
)

// notify is swapped in tests; beeep talks to the session notification daemon.
var notify = beeep.Notify

// DesktopSender shows notifications through the OS notification center.
type DesktopSender struct {
	logger *slog.Logger
	icon   any
}

func NewDesktopSender(appName string, logger *slog.Logger) *DesktopSender {
	if logger == nil {
		logger = slog.Default().With("component", "notifications")
	}
	if appName != "" {
		beeep.AppName = appName
	}

	return &DesktopSender{logger: logger, icon: ""}
}

func (s *DesktopSender) Send(p Payload) {
	if err := notify(p.Title, p.Content, s.icon); err != nil {
		s.logger.Warn("desktop notification failed", "title", p.Title, "error", err)
	}
}
