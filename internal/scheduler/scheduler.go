package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/elonfeng/chanwatch/internal/lifecycle"
	"github.com/elonfeng/chanwatch/internal/queue"
	"github.com/elonfeng/chanwatch/internal/store"
	"github.com/elonfeng/chanwatch/pkg/alert"
	"github.com/elonfeng/chanwatch/pkg/notify"
	"github.com/elonfeng/chanwatch/pkg/platform"
	"github.com/elonfeng/chanwatch/pkg/stats"
)

// State is the loop's current phase.
type State string

const (
	StateIdle        State = "idle"
	StateDraining    State = "draining_commands"
	StateReconciling State = "reconciling"
	StateSampling    State = "sampling"
	StateNotifying   State = "notifying"
)

// Config holds the loop timings. Zero values get defaults.
type Config struct {
	PollInterval  time.Duration
	CheckInterval time.Duration
	ChannelPause  time.Duration
}

// CycleResult summarizes one full cycle.
type CycleResult struct {
	RequestedBy *int64    `json:"requested_by,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Joined      int       `json:"joined"`
	Checked     int       `json:"checked"`
	Failed      int       `json:"failed"`
	Left        int       `json:"left"`
	Success     bool      `json:"success"`
}

// Status is a snapshot of the loop for status endpoints.
type Status struct {
	State     State        `json:"state"`
	NextCycle time.Time    `json:"next_cycle"`
	LastCycle *CycleResult `json:"last_cycle,omitempty"`
}

// Scheduler is the single worker loop: it drains commands on every poll and
// runs a full join, sample, leave, notify cycle when one is requested or due.
type Scheduler struct {
	store     store.Store
	queue     *queue.Queue
	lifecycle *lifecycle.Reconciler
	collector *stats.Collector
	diff      *stats.DiffEngine
	emitter   *notify.Emitter
	log       zerolog.Logger

	pollInt  time.Duration
	checkInt time.Duration
	pacer    *rate.Limiter
	wake     <-chan struct{}
	now      func() time.Time

	mu        sync.Mutex
	state     State
	nextCycle time.Time
	lastCycle *CycleResult
}

// New creates a scheduler. The first Tick always runs a cycle.
func New(
	st store.Store,
	q *queue.Queue,
	rec *lifecycle.Reconciler,
	col *stats.Collector,
	diff *stats.DiffEngine,
	em *notify.Emitter,
	cfg Config,
	log zerolog.Logger,
) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 30 * time.Minute
	}
	limit := rate.Inf
	if cfg.ChannelPause > 0 {
		limit = rate.Every(cfg.ChannelPause)
	}
	return &Scheduler{
		store:     st,
		queue:     q,
		lifecycle: rec,
		collector: col,
		diff:      diff,
		emitter:   em,
		log:       log,
		pollInt:   cfg.PollInterval,
		checkInt:  cfg.CheckInterval,
		pacer:     rate.NewLimiter(limit, 1),
		now:       time.Now,
		state:     StateIdle,
	}
}

// SetWake makes Run poll early whenever wake fires.
func (s *Scheduler) SetWake(wake <-chan struct{}) {
	s.wake = wake
}

// Status returns the current state and cycle timing.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{State: s.state, NextCycle: s.nextCycle}
	if s.lastCycle != nil {
		last := *s.lastCycle
		st.LastCycle = &last
	}
	return st
}

func (s *Scheduler) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Run polls until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.pollInt)
	defer ticker.Stop()

	s.log.Info().
		Dur("poll", s.pollInt).
		Dur("check_interval", s.checkInt).
		Msg("scheduler running")

	for {
		s.Tick(ctx)

		select {
		case <-ctx.Done():
			s.log.Info().Msg("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
		case <-s.wake:
			s.log.Debug().Msg("woken by command marker")
		}
	}
}

// Tick drains pending commands, leave before join before check, and runs a
// cycle if a check was requested or the periodic timer elapsed. It reports
// whether a cycle ran.
func (s *Scheduler) Tick(ctx context.Context) bool {
	s.setState(StateDraining)

	if req, err := s.queue.DrainLeave(); err != nil {
		s.log.Error().Err(err).Msg("drain leave request")
	} else if req != nil {
		s.log.Info().Int64("channel_id", req.ChannelID).Str("handle", req.Handle).Msg("leave requested")
		if err := s.lifecycle.LeaveRequested(ctx, req.ChannelID, req.Handle); err != nil {
			s.log.Warn().Err(err).Int64("channel_id", req.ChannelID).Msg("leave request failed")
		}
	}

	if req, err := s.queue.DrainJoin(); err != nil {
		s.log.Error().Err(err).Msg("drain join request")
	} else if req != nil {
		s.log.Info().Int64("channel_id", req.ChannelID).Str("identifier", req.Identifier).Msg("join requested")
		if err := s.lifecycle.JoinRequested(ctx, req.ChannelID, req.Identifier); err != nil {
			s.log.Warn().Err(err).Int64("channel_id", req.ChannelID).Msg("join request failed")
		}
	}

	check, err := s.queue.DrainCheck()
	if err != nil {
		s.log.Error().Err(err).Msg("drain check request")
	}

	s.mu.Lock()
	due := !s.now().Before(s.nextCycle)
	next := s.nextCycle
	s.mu.Unlock()

	if check == nil && !due {
		s.setState(StateIdle)
		s.log.Debug().Dur("remaining", next.Sub(s.now()).Round(time.Second)).Msg("next cycle pending")
		return false
	}

	var requestedBy *int64
	if check != nil {
		requestedBy = check.RequestedBy
		ev := s.log.Info()
		if requestedBy != nil {
			ev = ev.Int64("requested_by", *requestedBy)
		}
		ev.Msg("immediate check requested")
	}

	s.RunCycle(ctx, requestedBy)
	return true
}

// RunCycle runs join reconcile, sampling, leave reconcile and notification
// in that order, then resets the periodic timer.
func (s *Scheduler) RunCycle(ctx context.Context, requestedBy *int64) CycleResult {
	res := CycleResult{RequestedBy: requestedBy, StartedAt: s.now()}
	s.log.Info().Msg("cycle started")

	s.setState(StateReconciling)
	joins, err := s.lifecycle.ReconcileJoins(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("join reconcile")
	}
	res.Joined = joins.Succeeded

	s.setState(StateSampling)
	changes := s.sampleAll(ctx, &res)

	s.setState(StateReconciling)
	leaves, err := s.lifecycle.ReconcileLeaves(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("leave reconcile")
	}
	res.Left = leaves.Attempted

	res.Success = res.Checked > 0
	res.FinishedAt = s.now()

	if ctx.Err() == nil {
		s.setState(StateNotifying)
		if _, err := s.emitter.Emit(ctx, requestedBy, res.StartedAt, res.Checked, res.Success, changes); err != nil {
			s.log.Error().Err(err).Msg("emit completion record")
		}
	}

	s.mu.Lock()
	s.nextCycle = s.now().Add(s.checkInt)
	s.lastCycle = &res
	s.state = StateIdle
	s.mu.Unlock()

	s.log.Info().
		Int("joined", res.Joined).
		Int("checked", res.Checked).
		Int("failed", res.Failed).
		Int("left", res.Left).
		Dur("took", res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond)).
		Msg("cycle finished")
	return res
}

// sampleAll samples every joined active channel in turn. A channel that
// cannot be sampled loses its membership flag so the next cycle rejoins it.
func (s *Scheduler) sampleAll(ctx context.Context, res *CycleResult) []alert.Change {
	targets, err := s.store.SampleTargets(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("list sample targets")
		return nil
	}
	if len(targets) == 0 {
		s.log.Warn().Msg("no joined channels to sample")
		return nil
	}

	var changes []alert.Change
	for i := range targets {
		if err := s.pacer.Wait(ctx); err != nil {
			break
		}
		ch := &targets[i]
		log := s.log.With().Int64("channel_id", ch.ID).Str("handle", ch.Handle).Logger()

		raw, err := s.collector.Sample(ctx, ch)
		if err != nil {
			if errors.Is(err, platform.ErrNotChannel) {
				log.Info().Err(err).Msg("not a channel")
			} else {
				log.Warn().Err(err).Msg("sample failed")
			}
			res.Failed++
			if err := s.store.SetMember(ctx, ch.ID, false); err != nil {
				log.Error().Err(err).Msg("clear membership")
			}
			continue
		}

		sample, err := s.diff.Record(ctx, ch.ID, *raw)
		if err != nil {
			log.Error().Err(err).Msg("record sample")
			res.Failed++
			continue
		}
		res.Checked++
		log.Info().Int("members", sample.MemberCount).Int("change", sample.MemberChange).Msg("sampled")

		changes = append(changes, alert.Change{
			ChannelID:    ch.ID,
			Handle:       ch.Handle,
			Title:        ch.Title,
			MemberCount:  sample.MemberCount,
			MemberChange: sample.MemberChange,
		})
	}
	return changes
}
