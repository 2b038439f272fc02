package logger

import (
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var instanceID atomic.Value

// InstanceID returns the id stamped on every record by the last Init. Other
// components reuse it so logs and cross-instance traffic agree on who sent what.
func InstanceID() string {
	if v, ok := instanceID.Load().(string); ok {
		return v
	}
	return ""
}

func ensureInstanceID(v string) string {
	if v == "" {
		hn, _ := os.Hostname()
		v = hn + "-" + uuid.NewString()[:8]
	}
	instanceID.Store(v)
	return v
}

func commonAttr(cfg Config) []slog.Attr {
	return []slog.Attr{
		slog.String("service", cfg.Service),
		slog.String("env", string(cfg.Env)),
		slog.String("version", cfg.Version),
		slog.String("instance_id", cfg.InstanceID),
		slog.Time("started_at", time.Now()),
	}
}
