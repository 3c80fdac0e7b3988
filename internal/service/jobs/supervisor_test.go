package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/zhouzirui/moodtune/backend/internal/model/chat"
	chatsvc "github.com/zhouzirui/moodtune/backend/internal/service/chat"
	"github.com/zhouzirui/moodtune/backend/internal/service/music"
)

type fakeClient struct {
	mu      sync.Mutex
	submits int
	polls   int
	submit  func(n int, prompt string) (string, error)
	poll    func(n int, taskID string) (music.TaskState, error)
}

func (c *fakeClient) Submit(_ context.Context, prompt string) (string, error) {
	c.mu.Lock()
	c.submits++
	n := c.submits
	c.mu.Unlock()
	if c.submit == nil {
		return "task-" + prompt, nil
	}
	return c.submit(n, prompt)
}

func (c *fakeClient) Poll(_ context.Context, taskID string) (music.TaskState, error) {
	c.mu.Lock()
	c.polls++
	n := c.polls
	c.mu.Unlock()
	return c.poll(n, taskID)
}

func (c *fakeClient) submitCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.submits
}

type recorder struct {
	mu      sync.Mutex
	updates []chat.Update
	ch      chan chat.Update
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan chat.Update, 32)}
}

func (r *recorder) Send(_ string, u chat.Update) {
	r.mu.Lock()
	r.updates = append(r.updates, u)
	r.mu.Unlock()
	r.ch <- u
}

func (r *recorder) next(t *testing.T) chat.Update {
	t.Helper()
	select {
	case u := <-r.ch:
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for update")
		return chat.Update{}
	}
}

func (r *recorder) all() []chat.Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]chat.Update(nil), r.updates...)
}

func finished(urls ...string) music.TaskState {
	state := music.TaskState{Status: "finished"}
	for _, u := range urls {
		state.Items = append(state.Items, music.Item{AudioURL: u})
	}
	return state
}

func running() music.TaskState {
	return music.TaskState{Status: "running"}
}

type harness struct {
	sup      *Supervisor
	sessions *chatsvc.Service
	client   *fakeClient
	notes    *recorder
}

func newHarness(t *testing.T, client *fakeClient, cfg Config) *harness {
	t.Helper()
	if cfg.SubmitAttempts == 0 {
		cfg.SubmitAttempts = 3
	}
	if cfg.SubmitBackoff == 0 {
		cfg.SubmitBackoff = time.Millisecond
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Millisecond
	}
	// Runs after the shutdown cleanup below.
	t.Cleanup(func() { goleak.VerifyNone(t) })

	sessions := chatsvc.NewService(nil)
	notes := newRecorder()
	h := &harness{
		sup:      NewSupervisor(client, sessions, notes, cfg, nil, nil),
		sessions: sessions,
		client:   client,
		notes:    notes,
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		require.NoError(t, h.sup.Shutdown(ctx))
	})
	return h
}

func (h *harness) session(t *testing.T, id string) *chat.Session {
	t.Helper()
	sess, ok := h.sessions.Get(id)
	require.True(t, ok, "session %s not opened", id)
	return sess
}

func lastText(s *chat.Session) string {
	history := s.History()
	if len(history) == 0 {
		return ""
	}
	return history[len(history)-1].Text
}

func TestStartEmitsInterimUpdateBeforeReturning(t *testing.T) {
	client := &fakeClient{poll: func(int, string) (music.TaskState, error) { return running(), nil }}
	h := newHarness(t, client, Config{})
	sess := h.sessions.Open("s1")

	require.NoError(t, h.sup.Start(h.session(t, "s1"), "calm piano"))

	all := h.notes.all()
	require.Len(t, all, 1, "interim update must be sent synchronously")
	started := all[0]
	assert.Equal(t, chat.EventGenerationStarted, started.Event)
	assert.True(t, started.IsMusicGenerating)
	assert.Empty(t, started.MusicURL)
	assert.True(t, sess.Generating())
	assert.True(t, h.sup.Running("s1"))
	assert.Equal(t, "calm piano"+chat.GeneratingSuffix, lastText(sess))
	assert.Equal(t, "calm piano \nThe music is being generated, please wait...", lastText(sess))
}

func TestCompletionDeliversFirstResult(t *testing.T) {
	client := &fakeClient{poll: func(n int, _ string) (music.TaskState, error) {
		if n < 3 {
			return running(), nil
		}
		return finished("X", "Y"), nil
	}}
	h := newHarness(t, client, Config{})
	sess := h.sessions.Open("s1")

	require.NoError(t, h.sup.Start(h.session(t, "s1"), "calm piano"))
	h.notes.next(t)

	done := h.notes.next(t)
	assert.Equal(t, chat.EventGenerationCompleted, done.Event)
	assert.Equal(t, "X", done.MusicURL)
	assert.False(t, done.IsMusicGenerating)
	assert.Equal(t, chat.TextGenerationDone, done.Messages[len(done.Messages)-1].Text)

	assert.False(t, sess.Generating())
	assert.False(t, h.sup.Running("s1"))
	assert.Equal(t, "The music is generated, enjoy it!", lastText(sess))
}

func TestCompletionWithNoItemsHasEmptyURL(t *testing.T) {
	client := &fakeClient{poll: func(int, string) (music.TaskState, error) { return finished(), nil }}
	h := newHarness(t, client, Config{})
	h.sessions.Open("s1")

	require.NoError(t, h.sup.Start(h.session(t, "s1"), "calm piano"))
	h.notes.next(t)

	done := h.notes.next(t)
	assert.Equal(t, chat.EventGenerationCompleted, done.Event)
	assert.Equal(t, "", done.MusicURL)
}

func TestSubmitRetriesUntilTaskID(t *testing.T) {
	client := &fakeClient{
		submit: func(n int, _ string) (string, error) {
			if n <= 2 {
				return "", music.ErrNoTaskID
			}
			return "batch-1", nil
		},
		poll: func(_ int, taskID string) (music.TaskState, error) {
			if taskID != "batch-1" {
				return music.TaskState{}, errors.New("unexpected task")
			}
			return finished("X"), nil
		},
	}
	h := newHarness(t, client, Config{})
	h.sessions.Open("s1")

	require.NoError(t, h.sup.Start(h.session(t, "s1"), "calm piano"))
	h.notes.next(t)

	done := h.notes.next(t)
	assert.Equal(t, chat.EventGenerationCompleted, done.Event)
	assert.Equal(t, 3, client.submitCount())
}

func TestSubmitGivesUpAfterAttempts(t *testing.T) {
	client := &fakeClient{
		submit: func(int, string) (string, error) { return "", music.ErrNoTaskID },
		poll: func(int, string) (music.TaskState, error) {
			return music.TaskState{}, errors.New("poll must not be reached")
		},
	}
	h := newHarness(t, client, Config{})
	sess := h.sessions.Open("s1")

	require.NoError(t, h.sup.Start(h.session(t, "s1"), "calm piano"))
	h.notes.next(t)

	failed := h.notes.next(t)
	assert.Equal(t, chat.EventGenerationFailed, failed.Event)
	assert.Empty(t, failed.MusicURL)
	assert.False(t, failed.IsMusicGenerating)
	assert.Equal(t, 3, client.submitCount())
	assert.Equal(t, "The music generation failed, please try again later.", lastText(sess))
	assert.False(t, sess.Generating())
}

func TestSubmitDoesNotRetryTransportErrors(t *testing.T) {
	client := &fakeClient{
		submit: func(int, string) (string, error) { return "", errors.New("connection refused") },
	}
	h := newHarness(t, client, Config{})
	h.sessions.Open("s1")

	require.NoError(t, h.sup.Start(h.session(t, "s1"), "calm piano"))
	h.notes.next(t)

	assert.Equal(t, chat.EventGenerationFailed, h.notes.next(t).Event)
	assert.Equal(t, 1, client.submitCount())
}

func TestPollErrorFailsJob(t *testing.T) {
	client := &fakeClient{poll: func(n int, _ string) (music.TaskState, error) {
		if n == 1 {
			return running(), nil
		}
		return music.TaskState{}, errors.New("bad gateway")
	}}
	h := newHarness(t, client, Config{})
	sess := h.sessions.Open("s1")

	require.NoError(t, h.sup.Start(h.session(t, "s1"), "calm piano"))
	h.notes.next(t)

	assert.Equal(t, chat.EventGenerationFailed, h.notes.next(t).Event)
	assert.False(t, sess.Generating())
	assert.False(t, h.sup.Running("s1"))
}

func TestPollTimeoutFailsJob(t *testing.T) {
	client := &fakeClient{poll: func(int, string) (music.TaskState, error) { return running(), nil }}
	h := newHarness(t, client, Config{PollTimeout: 20 * time.Millisecond})
	h.sessions.Open("s1")

	require.NoError(t, h.sup.Start(h.session(t, "s1"), "calm piano"))
	h.notes.next(t)

	assert.Equal(t, chat.EventGenerationFailed, h.notes.next(t).Event)
}

func TestStartSupersedesRunningJob(t *testing.T) {
	client := &fakeClient{poll: func(_ int, taskID string) (music.TaskState, error) {
		if taskID == "task-old" {
			return running(), nil
		}
		return finished("new.mp3"), nil
	}}
	h := newHarness(t, client, Config{})
	sess := h.sessions.Open("s1")

	require.NoError(t, h.sup.Start(h.session(t, "s1"), "old"))
	assert.Equal(t, chat.EventGenerationStarted, h.notes.next(t).Event)

	require.NoError(t, h.sup.Start(h.session(t, "s1"), "new"))
	assert.Equal(t, 1, h.sup.Active())
	assert.Equal(t, chat.EventGenerationStarted, h.notes.next(t).Event)

	done := h.notes.next(t)
	assert.Equal(t, chat.EventGenerationCompleted, done.Event)
	assert.Equal(t, "new.mp3", done.MusicURL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.sup.Shutdown(ctx))

	assert.Len(t, h.notes.all(), 3, "superseded job must never notify")
	assert.False(t, sess.Generating())

	var interim int
	for _, turn := range sess.History() {
		if turn.Text == "old"+chat.GeneratingSuffix || turn.Text == "new"+chat.GeneratingSuffix {
			interim++
		}
	}
	assert.Equal(t, 2, interim)
	assert.Equal(t, chat.TextGenerationDone, lastText(sess))
}

func TestCancelIsSilent(t *testing.T) {
	client := &fakeClient{poll: func(int, string) (music.TaskState, error) { return running(), nil }}
	h := newHarness(t, client, Config{})
	sess := h.sessions.Open("s1")

	require.NoError(t, h.sup.Start(h.session(t, "s1"), "calm piano"))
	h.notes.next(t)
	historyLen := sess.Len()

	assert.True(t, h.sup.Cancel("s1"))
	assert.False(t, h.sup.Cancel("s1"))
	assert.False(t, sess.Generating())
	assert.False(t, h.sup.Running("s1"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.sup.Shutdown(ctx))

	assert.Len(t, h.notes.all(), 1)
	assert.Equal(t, historyLen, sess.Len())
}

func TestStartUnknownSession(t *testing.T) {
	h := newHarness(t, &fakeClient{}, Config{})
	assert.ErrorIs(t, h.sup.Start(chat.NewSession("ghost"), "calm piano"), ErrSessionNotFound)
	assert.Empty(t, h.notes.all())
}

func TestStartAfterShutdown(t *testing.T) {
	client := &fakeClient{poll: func(int, string) (music.TaskState, error) { return running(), nil }}
	h := newHarness(t, client, Config{})
	sess := h.sessions.Open("s1")

	require.NoError(t, h.sup.Start(h.session(t, "s1"), "calm piano"))
	h.notes.next(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.sup.Shutdown(ctx))

	assert.False(t, sess.Generating())
	assert.Equal(t, 0, h.sup.Active())
	assert.ErrorIs(t, h.sup.Start(h.session(t, "s1"), "again"), ErrSupervisorClosed)
}

func TestGeneratingMatchesRegistryAcrossSessions(t *testing.T) {
	client := &fakeClient{poll: func(int, string) (music.TaskState, error) { return running(), nil }}
	h := newHarness(t, client, Config{})
	a := h.sessions.Open("a")
	b := h.sessions.Open("b")

	require.NoError(t, h.sup.Start(h.session(t, "a"), "one"))
	require.NoError(t, h.sup.Start(h.session(t, "b"), "two"))
	h.sup.Cancel("a")

	assert.Equal(t, h.sup.Running("a"), a.Generating())
	assert.Equal(t, h.sup.Running("b"), b.Generating())
	assert.Equal(t, 1, h.sup.Active())
}

func TestStartRejectsReplacedSession(t *testing.T) {
	client := &fakeClient{poll: func(int, string) (music.TaskState, error) { return running(), nil }}
	h := newHarness(t, client, Config{})
	stale := h.sessions.Open("s1")
	fresh := h.sessions.Open("s1")

	assert.ErrorIs(t, h.sup.Start(stale, "old prompt"), chat.ErrSessionDetached)

	assert.False(t, h.sup.Running("s1"))
	assert.False(t, fresh.Generating())
	assert.Equal(t, 0, fresh.Len())
	assert.False(t, stale.Generating())
	assert.Empty(t, h.notes.all())
	assert.Equal(t, 0, client.submitCount())
}

func TestStartRejectsClosedSession(t *testing.T) {
	h := newHarness(t, &fakeClient{}, Config{})
	sess := h.sessions.Open("s1")
	require.True(t, h.sessions.Close("s1", sess))

	assert.ErrorIs(t, h.sup.Start(sess, "calm piano"), ErrSessionNotFound)
	assert.Empty(t, h.notes.all())
}
