// Package jobs runs music generation in the background, at most one job per
// session. Starting a job for a session that already has one cancels and
// silently discards the older job.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/moodtune/backend/internal/config"
	"github.com/zhouzirui/moodtune/backend/internal/metrics"
	"github.com/zhouzirui/moodtune/backend/internal/model/chat"
	"github.com/zhouzirui/moodtune/backend/internal/service/music"
)

var (
	ErrSessionNotFound  = errors.New("jobs: session not found")
	ErrSupervisorClosed = errors.New("jobs: supervisor is shut down")
	ErrEmptyPrompt      = errors.New("jobs: prompt is empty")
)

// Sessions resolves live sessions by id.
type Sessions interface {
	Get(id string) (*chat.Session, bool)
}

// Notifier delivers updates to a session's client. Unknown ids are ignored.
type Notifier interface {
	Send(sessionID string, update chat.Update)
}

// Config controls submit retries and polling cadence.
type Config struct {
	SubmitAttempts int
	SubmitBackoff  time.Duration
	PollInterval   time.Duration
	PollTimeout    time.Duration
}

// ConfigFrom extracts the job timing from the music config.
func ConfigFrom(cfg config.MusicConfig) Config {
	return Config{
		SubmitAttempts: cfg.SubmitAttempts,
		SubmitBackoff:  cfg.SubmitBackoff,
		PollInterval:   cfg.PollInterval,
		PollTimeout:    cfg.PollTimeout,
	}
}

func (c Config) withDefaults() Config {
	if c.SubmitAttempts < 1 {
		c.SubmitAttempts = 1
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Second
	}
	return c
}

// Job is a registered generation for one session.
type Job struct {
	SessionID string
	Prompt    string
	StartedAt time.Time

	session *chat.Session
	cancel  context.CancelFunc
}

// Supervisor owns the job registry.
type Supervisor struct {
	client   music.Client
	sessions Sessions
	notifier Notifier
	cfg      Config
	logger   *zap.Logger
	metrics  *metrics.Metrics

	mu     sync.Mutex
	jobs   map[string]*Job
	closed bool
	wg     sync.WaitGroup
}

// NewSupervisor builds a supervisor. logger and m may be nil.
func NewSupervisor(client music.Client, sessions Sessions, notifier Notifier, cfg Config, logger *zap.Logger, m *metrics.Metrics) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		client:   client,
		sessions: sessions,
		notifier: notifier,
		cfg:      cfg.withDefaults(),
		logger:   logger.Named("jobs"),
		metrics:  m,
		jobs:     make(map[string]*Job),
	}
}

// Start registers a new job for session, superseding any running one. Before
// returning it marks the session as generating, appends the interim assistant
// turn and emits the generation_started update. A session that is no longer
// the one registered under its id is rejected with chat.ErrSessionDetached.
func (s *Supervisor) Start(session *chat.Session, prompt string) error {
	if prompt == "" {
		return ErrEmptyPrompt
	}
	sessionID := session.ID
	current, ok := s.sessions.Get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	if current != session {
		return chat.ErrSessionDetached
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSupervisorClosed
	}
	// Checked under the registry lock: a reconnect detaches before it cancels,
	// so either this sees the detach or the Cancel sees this job.
	if session.Detached() {
		s.mu.Unlock()
		return chat.ErrSessionDetached
	}
	if old, ok := s.jobs[sessionID]; ok {
		s.discardLocked(old, metrics.OutcomeSuperseded)
	}

	ctx, cancel := context.WithCancel(context.Background())
	job := &Job{
		SessionID: sessionID,
		Prompt:    prompt,
		StartedAt: time.Now(),
		session:   session,
		cancel:    cancel,
	}
	s.jobs[sessionID] = job
	session.SetGenerating(true)
	session.Append(chat.RoleAssistant, prompt+chat.GeneratingSuffix)
	s.wg.Add(1)
	s.mu.Unlock()

	s.metrics.JobStarted()
	s.logger.Info("generation started", zap.String("session", sessionID), zap.String("prompt", prompt))
	session.Publish(chat.EventGenerationStarted, func(u chat.Update) {
		s.notifier.Send(sessionID, u)
	})

	go s.run(ctx, job)
	return nil
}

// Cancel discards the session's job without any notification or history
// entry. It reports whether a job was registered.
func (s *Supervisor) Cancel(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[sessionID]
	if !ok {
		return false
	}
	s.discardLocked(job, metrics.OutcomeCancelled)
	return true
}

// Running reports whether a job is registered for the session.
func (s *Supervisor) Running(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[sessionID]
	return ok
}

// Active returns the number of registered jobs.
func (s *Supervisor) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Shutdown cancels every job, refuses new ones and waits for the job
// goroutines to exit or ctx to expire.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	for _, job := range s.jobs {
		s.discardLocked(job, metrics.OutcomeCancelled)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// discardLocked must be called with s.mu held.
func (s *Supervisor) discardLocked(job *Job, outcome string) {
	job.cancel()
	delete(s.jobs, job.SessionID)
	job.session.SetGenerating(false)
	s.metrics.JobFinished(outcome)
	s.logger.Debug("generation discarded", zap.String("session", job.SessionID), zap.String("outcome", outcome))
}

func (s *Supervisor) run(ctx context.Context, job *Job) {
	defer s.wg.Done()

	url, err := s.execute(ctx, job)
	if ctx.Err() != nil {
		// Cancelled or superseded: the registry already forgot this job.
		return
	}
	s.finish(job, url, err)
}

func (s *Supervisor) execute(ctx context.Context, job *Job) (string, error) {
	taskID, err := s.submit(ctx, job)
	if err != nil {
		return "", err
	}

	pollCtx := ctx
	if s.cfg.PollTimeout > 0 {
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithTimeout(ctx, s.cfg.PollTimeout)
		defer cancel()
	}
	return s.poll(pollCtx, job, taskID)
}

// submit retries only when the service answered without a task id.
func (s *Supervisor) submit(ctx context.Context, job *Job) (string, error) {
	for attempt := 1; ; attempt++ {
		taskID, err := s.client.Submit(ctx, job.Prompt)
		if err == nil {
			s.logger.Debug("task submitted", zap.String("session", job.SessionID), zap.String("task", taskID), zap.Int("attempt", attempt))
			return taskID, nil
		}
		if !errors.Is(err, music.ErrNoTaskID) {
			return "", err
		}
		if attempt >= s.cfg.SubmitAttempts {
			return "", fmt.Errorf("submit gave up after %d attempts: %w", attempt, err)
		}

		s.metrics.SubmitRetried()
		s.logger.Warn("no task id, retrying",
			zap.String("session", job.SessionID),
			zap.Int("attempt", attempt),
			zap.Int("max", s.cfg.SubmitAttempts),
			zap.Error(err))

		if err := sleep(ctx, s.cfg.SubmitBackoff); err != nil {
			return "", err
		}
	}
}

// poll waits one interval before every request and returns on the first
// finished state or the first error.
func (s *Supervisor) poll(ctx context.Context, job *Job, taskID string) (string, error) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}

		state, err := s.client.Poll(ctx, taskID)
		if err != nil {
			return "", fmt.Errorf("poll %s: %w", taskID, err)
		}
		if state.Finished() {
			return state.FirstResult(), nil
		}
		s.logger.Debug("waiting for music", zap.String("session", job.SessionID), zap.String("task", taskID), zap.String("status", state.Status))
	}
}

// finish records the outcome, unless job is no longer the registered one.
func (s *Supervisor) finish(job *Job, url string, err error) {
	s.mu.Lock()
	if current, ok := s.jobs[job.SessionID]; !ok || current != job {
		s.mu.Unlock()
		return
	}
	delete(s.jobs, job.SessionID)
	job.cancel()

	event, outcome, text := chat.EventGenerationCompleted, metrics.OutcomeCompleted, chat.TextGenerationDone
	if err != nil {
		event, outcome, text = chat.EventGenerationFailed, metrics.OutcomeFailed, chat.TextGenerationFailed
		url = ""
	}
	job.session.SetGenerating(false)
	job.session.Append(chat.RoleAssistant, text)
	s.mu.Unlock()

	s.metrics.JobFinished(outcome)
	if err != nil {
		s.logger.Warn("generation failed", zap.String("session", job.SessionID), zap.Duration("elapsed", time.Since(job.StartedAt)), zap.Error(err))
	} else {
		s.logger.Info("generation completed", zap.String("session", job.SessionID), zap.Duration("elapsed", time.Since(job.StartedAt)), zap.String("url", url))
	}

	job.session.Publish(event, func(u chat.Update) {
		u.MusicURL = url
		s.notifier.Send(job.SessionID, u)
	})
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
