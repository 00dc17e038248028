package logger

import (
	"log/slog"
	"time"
)

// Error records err under "error". Nil errors produce an empty Attr.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

func WorkspaceID(id string) slog.Attr {
	return slog.String("workspace_id", id)
}

func DeviceID(id string) slog.Attr {
	return slog.String("device_id", id)
}

func UserID(id string) slog.Attr {
	return slog.String("user_id", id)
}

func Component(name string) slog.Attr {
	return slog.String("component", name)
}

// Job records the scheduled job name.
func Job(name string) slog.Attr {
	return slog.String("job", name)
}

func Provider(name string) slog.Attr {
	return slog.String("provider", name)
}

// Transition records a subscription status change as "from->to".
func Transition(from, to string) slog.Attr {
	return slog.String("transition", from+"->"+to)
}

func Counter(name string) slog.Attr {
	return slog.String("counter", name)
}

func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}
