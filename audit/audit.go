package audit

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nidohq/nido/store"
)

// Severity classifies audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Actor identifies who performed an audited action. A zero Actor is a
// system action.
type Actor struct {
	ID        *uuid.UUID
	Email     string
	IP        string
	UserAgent string
}

// Entry is a single audit event.
type Entry struct {
	Action       string
	Severity     string
	Actor        Actor
	ResourceType string
	ResourceID   string
	Details      map[string]any
}

// Logger records security- and money-relevant events. Every event is
// written synchronously to the operational log stream with sensitive
// fields masked, and asynchronously to the durable store with full
// detail. The durable write is best-effort: its failure is logged and
// never propagates to the caller.
type Logger struct {
	slog  *slog.Logger
	store store.AuditStore
	wg    sync.WaitGroup

	// storeTimeout bounds each durable write.
	storeTimeout time.Duration
}

// NewLogger creates a Logger. When logger is nil a JSON handler on
// stdout is used; when durable is nil entries are only emitted to the
// log stream.
func NewLogger(logger *slog.Logger, durable store.AuditStore) *Logger {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Logger{
		slog:         logger,
		store:        durable,
		storeTimeout: 5 * time.Second,
	}
}

// Record logs the entry. Safe for concurrent use; never returns an error.
func (l *Logger) Record(ctx context.Context, e Entry) {
	if e.Severity == "" {
		e.Severity = SeverityInfo
	}

	attrs := []any{
		slog.String("severity", e.Severity),
		slog.String("resource_type", e.ResourceType),
		slog.String("resource_id", e.ResourceID),
	}
	if e.Actor.ID != nil {
		attrs = append(attrs, slog.String("actor_id", e.Actor.ID.String()))
	}
	if e.Actor.Email != "" {
		attrs = append(attrs, slog.String("actor_email", e.Actor.Email))
	}
	if e.Actor.IP != "" {
		attrs = append(attrs, slog.String("ip", e.Actor.IP))
	}
	if len(e.Details) > 0 {
		attrs = append(attrs, slog.Any("details", Mask(e.Details)))
	}

	switch e.Severity {
	case SeverityCritical, SeverityError:
		l.slog.Error("audit: "+e.Action, attrs...)
	case SeverityWarning:
		l.slog.Warn("audit: "+e.Action, attrs...)
	default:
		l.slog.Info("audit: "+e.Action, attrs...)
	}

	if l.store == nil {
		return
	}

	row := &store.AuditEntry{
		Action:       e.Action,
		Severity:     e.Severity,
		ActorID:      e.Actor.ID,
		ActorEmail:   e.Actor.Email,
		ResourceType: e.ResourceType,
		ResourceID:   e.ResourceID,
		Details:      e.Details,
		IPAddress:    e.Actor.IP,
		UserAgent:    e.Actor.UserAgent,
	}

	// Durable write is detached from the request context so a cancelled
	// request does not lose the audit trail.
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.storeTimeout)
		defer cancel()
		if err := l.store.Record(ctx, row); err != nil {
			l.slog.Error("audit: durable write failed",
				slog.String("action", row.Action),
				slog.String("error", err.Error()))
		}
	}()
}

// Close waits for in-flight durable writes to finish.
func (l *Logger) Close() {
	l.wg.Wait()
}
