// Package notify carries user-facing notifications from the engine's
// components to whatever presentation layer is attached. Components never
// return half-applied state to the user; they emit one Notification instead.
package notify

import "log/slog"

// Level classifies a notification for display.
type Level string

// Notification levels.
const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notification is a single message surfaced to the user.
type Notification struct {
	Level   Level  `json:"level"`
	Title   string `json:"title"`
	Message string `json:"message,omitempty"`
	GameID  string `json:"game_id,omitempty"`
}

// Notifier receives notifications. Implementations must not block.
type Notifier interface {
	Notify(n Notification)
}

// Func adapts an ordinary function to the Notifier interface.
type Func func(n Notification)

// Notify calls f(n).
func (f Func) Notify(n Notification) {
	f(n)
}

// Discard drops every notification.
var Discard Notifier = Func(func(Notification) {})

// Log returns a Notifier that writes each notification to logger at a level
// matching the notification's level.
func Log(logger *slog.Logger) Notifier {
	return Func(func(n Notification) {
		attrs := []any{slog.String("title", n.Title)}
		if n.Message != "" {
			attrs = append(attrs, slog.String("message", n.Message))
		}

		if n.GameID != "" {
			attrs = append(attrs, slog.String("game_id", n.GameID))
		}

		switch n.Level {
		case LevelError:
			logger.Error("notification", attrs...)
		case LevelWarning:
			logger.Warn("notification", attrs...)
		default:
			logger.Info("notification", attrs...)
		}
	})
}

// Errorf builds an error-level notification from a failed operation.
func Errorf(gameID, title string, err error) Notification {
	n := Notification{Level: LevelError, Title: title, GameID: gameID}
	if err != nil {
		n.Message = err.Error()
	}

	return n
}
