package reminder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "eventpro/internal/log"
)

// DefaultSchedule checks every 30 minutes.
const DefaultSchedule = "*/30 * * * *"

// Status is reported by the reminders status endpoint.
type Status struct {
	Running    bool        `json:"running"`
	Schedule   string      `json:"schedule"`
	LastCheck  *time.Time  `json:"lastCheck,omitempty"`
	LastResult CheckResult `json:"lastResult"`
	LastError  string      `json:"lastError,omitempty"`
	NextRun    *time.Time  `json:"nextRun,omitempty"`
}

// Service drives a Scheduler on a cron schedule.
type Service struct {
	sched    *Scheduler
	schedule string
	loc      *time.Location

	checkMu sync.Mutex // serializes checks

	mu         sync.Mutex
	cron       *cron.Cron
	entry      cron.EntryID
	done       chan struct{} // closed by Stop for the current run
	lastCheck  time.Time
	lastResult CheckResult
	lastErr    error
}

// NewService validates schedule (standard 5-field cron syntax).
func NewService(sched *Scheduler, schedule string, loc *time.Location) (*Service, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("reminder: invalid schedule %q: %w", schedule, err)
	}
	if loc == nil {
		loc = time.Local
	}
	return &Service{sched: sched, schedule: schedule, loc: loc}, nil
}

// Start runs one check right away in the background and then one per
// schedule tick until Stop or ctx is done. Starting twice is an error.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return errors.New("reminder service already running")
	}

	logger := cronLogger{}
	c := cron.New(
		cron.WithLocation(s.loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	id, err := c.AddFunc(s.schedule, func() { s.runCheck(ctx) })
	if err != nil {
		return fmt.Errorf("reminder: add schedule: %w", err)
	}
	done := make(chan struct{})
	s.cron = c
	s.entry = id
	s.done = done
	c.Start()

	go s.runCheck(ctx)

	go func() {
		select {
		case <-ctx.Done():
			s.stop(done)
		case <-done:
		}
	}()

	appLog.Info("reminder service started", "schedule", s.schedule, "tz", s.loc.String())
	return nil
}

// Stop halts the schedule and waits for a running check to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	s.stop(done)
}

// stop halts the run identified by done; a later run is left alone.
func (s *Service) stop(done chan struct{}) {
	s.mu.Lock()
	if done == nil || s.done != done {
		s.mu.Unlock()
		return
	}
	c := s.cron
	s.cron = nil
	s.done = nil
	close(done)
	s.mu.Unlock()

	<-c.Stop().Done()
	appLog.Info("reminder service stopped")
}

// TriggerCheck runs a check now, outside the schedule.
func (s *Service) TriggerCheck(ctx context.Context) (CheckResult, error) {
	return s.runCheck(ctx)
}

func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		Running:    s.cron != nil,
		Schedule:   s.schedule,
		LastResult: s.lastResult,
	}
	if !s.lastCheck.IsZero() {
		t := s.lastCheck
		st.LastCheck = &t
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	if s.cron != nil {
		if next := s.cron.Entry(s.entry).Next; !next.IsZero() {
			st.NextRun = &next
		}
	}
	return st
}

func (s *Service) runCheck(ctx context.Context) (CheckResult, error) {
	s.checkMu.Lock()
	defer s.checkMu.Unlock()

	now := s.sched.now()
	res, err := s.sched.CheckAndSendReminders(ctx, now)
	if err != nil {
		appLog.Error("reminder check failed", err)
	}

	s.mu.Lock()
	s.lastCheck = now
	s.lastResult = res
	s.lastErr = err
	s.mu.Unlock()
	return res, err
}

// cronLogger adapts the application logger to cron.Logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}
