package observability

import (
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/scalpel-sessions/api/schemas"
)

const redactedValue = "[REDACTED]"

// Redacted returns a field that records the presence of a secret without its value.
func Redacted(key string) zap.Field {
	return zap.String(key, redactedValue)
}

// Record logs the metadata of a stored session. Only the metadata is ever logged;
// cookie values and storage contents never reach a log sink.
func Record(r *schemas.SessionRecord) zap.Field {
	if r == nil {
		return zap.Skip()
	}
	return zap.Object("session", recordMarshaler{r})
}

type recordMarshaler struct {
	r *schemas.SessionRecord
}

func (m recordMarshaler) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("id", m.r.ID)
	enc.AddString("name", m.r.Name)
	enc.AddString("domain", m.r.Domain)
	enc.AddString("auth_type", string(m.r.AuthType))
	enc.AddInt("schema_version", m.r.SchemaVersion)
	if m.r.ExpiresAt != nil {
		enc.AddString("expires_at", m.r.ExpiresAt.UTC().Format(time.RFC3339))
	}
	if m.r.AutoDestroy {
		enc.AddBool("auto_destroy", true)
	}
	return nil
}

// StateSummary logs the shape of a captured state (counts only).
func StateSummary(s *schemas.AuthenticatedState) zap.Field {
	if s == nil {
		return zap.Skip()
	}
	entries := 0
	for _, o := range s.Origins {
		entries += len(o.LocalStorage)
	}
	return zap.Dict("state",
		zap.Int("cookies", len(s.Cookies)),
		zap.Int("origins", len(s.Origins)),
		zap.Int("storage_entries", entries),
	)
}
