package logger

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// SlowAfter is the duration from which Timed reports an operation at warn level.
const SlowAfter = 2 * time.Second

var clock = clockwork.NewRealClock()

// Setup configures the standard logrus logger used across the project. An
// unknown level falls back to info; a nil out means stderr.
func Setup(level string, out io.Writer) {
	if out == nil {
		out = os.Stderr
	}
	logrus.SetOutput(out)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.DateTime,
	})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		logrus.SetLevel(logrus.InfoLevel)
		logrus.WithField("level", level).Warn("unknown log level, using info")
		return
	}
	logrus.SetLevel(lvl)
}

type requestIDKey struct{}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the id stored by WithRequestID, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// From returns a log entry tagged with the request id of ctx, if it has one.
func From(ctx context.Context) *logrus.Entry {
	entry := logrus.NewEntry(logrus.StandardLogger())
	if id := RequestID(ctx); id != "" {
		entry = entry.WithField("request_id", id)
	}
	return entry
}

// Timed starts timing op. Calling the returned func logs how long it took.
//
//	defer logger.Timed(ctx, "catalog search")()
func Timed(ctx context.Context, op string) func() {
	start := clock.Now()
	return func() {
		took := clock.Since(start)
		entry := From(ctx).WithFields(logrus.Fields{
			"op":      op,
			"took_ms": took.Milliseconds(),
		})
		if took >= SlowAfter {
			entry.Warn("slow operation")
			return
		}
		entry.Debug("operation done")
	}
}
