// Package notification provides cross-platform desktop notifications.
// It uses the beeep library to send notifications on macOS, Linux, and Windows.
package notification

import (
	"github.com/gen2brain/beeep"
	"github.com/mosaicdev/mosaic/internal/logger"
)

// Notifier sends desktop notifications.
type Notifier struct{}

// New returns a desktop Notifier.
func New() *Notifier {
	return &Notifier{}
}

// Send sends a desktop notification with the given title and message.
// On macOS, it uses terminal-notifier or AppleScript.
// On Linux, it uses D-Bus or notify-send.
// On Windows, it uses the Windows Runtime COM API.
func (n *Notifier) Send(title, message string) error {
	logger.Debug("Notification: sending - title=%q, message=%q", title, message)
	// Use empty string for icon - beeep handles platform defaults
	err := beeep.Notify(title, message, "")
	if err != nil {
		logger.Warn("Notification: failed to send: %v", err)
	}
	return err
}

// SessionComplete sends a notification that an agent session has finished
// responding.
func (n *Notifier) SessionComplete(sessionName string) error {
	if sessionName == "" {
		sessionName = "Session"
	}
	return n.Send("Mosaic", sessionName+" is ready")
}
