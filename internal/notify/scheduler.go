package notify

import (
	"context"
	"errors"
	"sync"
	"time"
	_ "time/tzdata"

	"github.com/rs/zerolog"

	"todoassist/internal/domain"
)

// AgendaSource provides the tasks the daily message is built from.
type AgendaSource interface {
	Agenda(ctx context.Context, day domain.Date) (domain.Agenda, error)
}

// Scheduler sends the daily digest once a day at Hour:Minute in Location.
type Scheduler struct {
	Source   AgendaSource
	Sender   Sender
	Location *time.Location
	Hour     int
	Minute   int
	Log      zerolog.Logger
	Now      func() time.Time

	mu      sync.Mutex
	running bool
	nextRun time.Time
	lastRun time.Time
	lastErr string
}

type Status struct {
	Running   bool       `json:"running"`
	Sender    string     `json:"sender"`
	Schedule  string     `json:"schedule"`
	NextRun   *time.Time `json:"next_run,omitempty"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Scheduler) location() *time.Location {
	if s.Location != nil {
		return s.Location
	}
	return time.Local
}

// NextRun returns the first send time strictly after t.
func (s *Scheduler) NextRun(t time.Time) time.Time {
	local := t.In(s.location())
	next := time.Date(local.Year(), local.Month(), local.Day(), s.Hour, s.Minute, 0, 0, s.location())
	if !next.After(local) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// SendDaily builds today's digest and sends it. The message is returned even
// when delivery fails.
func (s *Scheduler) SendDaily(ctx context.Context) (string, error) {
	if s.Source == nil || s.Sender == nil {
		return "", errors.New("notify: scheduler needs a source and a sender")
	}
	now := s.now()
	day := domain.DateOf(now.In(s.location()))
	agenda, err := s.Source.Agenda(ctx, day)
	if err != nil {
		s.record(now, err)
		return "", err
	}
	msg := BuildDailyMessage(agenda)
	err = s.Sender.Send(ctx, msg)
	s.record(now, err)
	return msg, err
}

// SendTest sends a fixed message to check the delivery path.
func (s *Scheduler) SendTest(ctx context.Context) (string, error) {
	if s.Sender == nil {
		return "", errors.New("notify: no sender configured")
	}
	msg := ConnectivityMessage(s.now().In(s.location()))
	return msg, s.Sender.Send(ctx, msg)
}

func (s *Scheduler) record(at time.Time, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun = at
	s.lastErr = ""
	if err != nil {
		s.lastErr = err.Error()
	}
}

// Run blocks until ctx is done, sending the digest at each scheduled time.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.nextRun = time.Time{}
		s.mu.Unlock()
	}()

	for {
		now := s.now()
		next := s.NextRun(now)
		s.mu.Lock()
		s.nextRun = next
		s.mu.Unlock()
		s.Log.Info().Time("next_run", next).Msg("daily notification scheduled")

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		if _, err := s.SendDaily(ctx); err != nil {
			s.Log.Error().Err(err).Msg("daily notification failed")
			continue
		}
		s.Log.Info().Msg("daily notification sent")
	}
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		Running:   s.running,
		Schedule:  time.Date(2000, 1, 1, s.Hour, s.Minute, 0, 0, s.location()).Format("15:04 MST"),
		LastError: s.lastErr,
	}
	if s.Sender != nil {
		st.Sender = s.Sender.Name()
	}
	if !s.nextRun.IsZero() {
		next := s.nextRun
		st.NextRun = &next
	}
	if !s.lastRun.IsZero() {
		last := s.lastRun
		st.LastRun = &last
	}
	return st
}
