// Package notify writes the completion record left for the administrative
// UI after every monitoring cycle.
package notify

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/elonfeng/chanwatch/internal/fileutil"
	"github.com/elonfeng/chanwatch/pkg/alert"
)

// ErrNoRecord is returned when no completion record is waiting.
var ErrNoRecord = errors.New("no completion record")

// Record is the completion record of one cycle.
type Record struct {
	ID              string    `json:"id"`
	RequestedBy     *int64    `json:"requested_by"`
	CycleStartedAt  time.Time `json:"cycle_started_at"`
	EmittedAt       time.Time `json:"emitted_at"`
	ChannelsChecked int       `json:"channels_checked"`
	Success         bool      `json:"success"`
}

// Emitter writes completion records and fans cycle summaries out to the
// configured alert destinations.
type Emitter struct {
	path   string
	alerts *alert.Manager
	log    zerolog.Logger
	now    func() time.Time
}

// NewEmitter writes records to path. alerts may be nil.
func NewEmitter(path string, alerts *alert.Manager, log zerolog.Logger) *Emitter {
	return &Emitter{path: path, alerts: alerts, log: log, now: time.Now}
}

func (e *Emitter) Path() string { return e.path }

// Emit overwrites the completion record, then broadcasts a summary. Alert
// failures are logged and do not affect the record.
func (e *Emitter) Emit(ctx context.Context, requestedBy *int64, startedAt time.Time, checked int, success bool, changes []alert.Change) (*Record, error) {
	rec := &Record{
		ID:              uuid.NewString(),
		RequestedBy:     requestedBy,
		CycleStartedAt:  startedAt.UTC(),
		EmittedAt:       e.now().UTC(),
		ChannelsChecked: checked,
		Success:         success,
	}
	if err := fileutil.WriteJSONAtomic(e.path, rec); err != nil {
		return nil, fmt.Errorf("write completion record: %w", err)
	}

	ev := e.log.Info().Str("record", rec.ID).Int("channels", checked).Bool("success", success)
	if requestedBy != nil {
		ev = ev.Int64("requested_by", *requestedBy)
	}
	ev.Msg("completion record written")

	if e.alerts.HasNotifiers() {
		n := &alert.Notification{
			Title:           "Channel check complete",
			Body:            summary(checked, success),
			RequestedBy:     requestedBy,
			CycleStartedAt:  rec.CycleStartedAt,
			ChannelsChecked: checked,
			Success:         success,
			Changes:         changes,
		}
		if err := e.alerts.Broadcast(ctx, n); err != nil {
			e.log.Warn().Err(err).Msg("cycle alert failed")
		}
	}
	return rec, nil
}

func summary(checked int, success bool) string {
	if !success {
		return "No reachable channels were checked."
	}
	if checked == 1 {
		return "1 channel checked."
	}
	return fmt.Sprintf("%d channels checked.", checked)
}

// Read returns the waiting record without removing it.
func Read(path string) (*Record, error) {
	var rec Record
	ok, err := fileutil.ReadJSON(path, &rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoRecord
	}
	return &rec, nil
}

// Consume returns the waiting record and deletes it.
func Consume(path string) (*Record, error) {
	rec, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove completion record: %w", err)
	}
	return rec, nil
}
