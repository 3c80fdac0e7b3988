package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/moodtune/backend/internal/model/chat"
	chatsvc "github.com/zhouzirui/moodtune/backend/internal/service/chat"
	"github.com/zhouzirui/moodtune/backend/internal/service/conversation"
	"github.com/zhouzirui/moodtune/backend/internal/service/jobs"
	"github.com/zhouzirui/moodtune/backend/internal/service/judge"
	"github.com/zhouzirui/moodtune/backend/internal/service/music"
)

type instantMusic struct{}

func (instantMusic) Submit(context.Context, string) (string, error) {
	return "batch-1", nil
}

func (instantMusic) Poll(context.Context, string) (music.TaskState, error) {
	return music.TaskState{Status: "finished", Items: []music.Item{{AudioURL: "https://cdn.example/x.mp3"}}}, nil
}

type testServer struct {
	url      string
	sessions *chatsvc.Service
	conns    *ConnectionManager
	jobs     *jobs.Supervisor
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	sessions := chatsvc.NewService(nil)
	conns := NewConnectionManager(nil)
	sup := jobs.NewSupervisor(instantMusic{}, sessions, conns, jobs.Config{
		SubmitAttempts: 3,
		SubmitBackoff:  time.Millisecond,
		PollInterval:   time.Millisecond,
	}, nil, nil)
	turns := conversation.New(judge.NewHeuristic(), sup, conns, nil, nil)

	r := chi.NewRouter()
	New(sessions, sup, turns, conns, nil).RegisterRoutes(r)
	srv := httptest.NewServer(r)

	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = sup.Shutdown(ctx)
	})

	return &testServer{
		url:      "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/",
		sessions: sessions,
		conns:    conns,
		jobs:     sup,
	}
}

func (s *testServer) dial(t *testing.T, id string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(s.url+id, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readUpdate(t *testing.T, conn *websocket.Conn) chat.Update {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var u chat.Update
	require.NoError(t, conn.ReadJSON(&u))
	return u
}

func say(t *testing.T, conn *websocket.Conn, text string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{
		"messages": []map[string]string{{"role": "user", "text": text}},
	}))
}

func TestConversationEndToEnd(t *testing.T) {
	srv := newTestServer(t)
	id := uuid.NewString()
	conn := srv.dial(t, id)

	connected := readUpdate(t, conn)
	assert.Equal(t, chat.EventConnected, connected.Event)
	assert.Equal(t, id, connected.SessionID)
	assert.Empty(t, connected.Messages)

	say(t, conn, "I am so happy today")
	reply := readUpdate(t, conn)
	assert.Equal(t, chat.EventReply, reply.Event)
	assert.Equal(t, "joy", reply.Emotion)
	require.Len(t, reply.Messages, 2)
	assert.Equal(t, chat.RoleAssistant, reply.Messages[1].Role)

	say(t, conn, "play some jazz please")
	started := readUpdate(t, conn)
	assert.Equal(t, chat.EventGenerationStarted, started.Event)
	assert.True(t, started.IsMusicGenerating)
	last := started.Messages[len(started.Messages)-1]
	assert.Equal(t, "A jazz instrumental piece that expresses joy."+chat.GeneratingSuffix, last.Text)

	done := readUpdate(t, conn)
	assert.Equal(t, chat.EventGenerationCompleted, done.Event)
	assert.Equal(t, "https://cdn.example/x.mp3", done.MusicURL)
	assert.False(t, done.IsMusicGenerating)
	assert.Equal(t, chat.TextGenerationDone, done.Messages[len(done.Messages)-1].Text)
}

func TestInvalidUserIDGetsFreshUUID(t *testing.T) {
	srv := newTestServer(t)
	conn := srv.dial(t, "not-a-uuid")

	connected := readUpdate(t, conn)
	_, err := uuid.Parse(connected.SessionID)
	assert.NoError(t, err)
	assert.NotEqual(t, "not-a-uuid", connected.SessionID)
}

func TestMalformedMessageIsDropped(t *testing.T) {
	srv := newTestServer(t)
	conn := srv.dial(t, uuid.NewString())
	readUpdate(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("garbage")))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"messages":[]}`)))
	say(t, conn, "hello there")

	reply := readUpdate(t, conn)
	assert.Equal(t, chat.EventReply, reply.Event)
	require.Len(t, reply.Messages, 2, "dropped messages must not reach the history")
	assert.Equal(t, "hello there", reply.Messages[0].Text)
}

func TestDisconnectReleasesSession(t *testing.T) {
	srv := newTestServer(t)
	conn := srv.dial(t, uuid.NewString())
	readUpdate(t, conn)
	require.Equal(t, 1, srv.sessions.Count())

	conn.Close()

	require.Eventually(t, func() bool {
		return srv.sessions.Count() == 0 && srv.conns.Count() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestReconnectReplacesConnection(t *testing.T) {
	srv := newTestServer(t)
	id := uuid.NewString()

	first := srv.dial(t, id)
	readUpdate(t, first)
	second := srv.dial(t, id)
	readUpdate(t, second)

	require.NoError(t, first.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := first.ReadMessage()
	assert.Error(t, err, "the replaced socket must be closed")

	say(t, second, "hello")
	assert.Equal(t, chat.EventReply, readUpdate(t, second).Event)
	assert.Equal(t, 1, srv.sessions.Count())
}

func TestLatestUserText(t *testing.T) {
	cases := []struct {
		raw  string
		text string
		ok   bool
	}{
		{`{"messages":[{"role":"user","text":"hi"}]}`, "hi", true},
		{`{"messages":[{"text":"no role"}]}`, "no role", true},
		{`{"messages":[{"role":"user","text":"first"},{"role":"assistant","text":"ignored"}]}`, "first", true},
		{`{"messages":[{"role":"user","text":"   "}]}`, "", false},
		{`{"messages":[]}`, "", false},
		{`not json`, "", false},
	}

	for _, tc := range cases {
		text, ok := latestUserText([]byte(tc.raw))
		assert.Equal(t, tc.ok, ok, tc.raw)
		assert.Equal(t, tc.text, text, tc.raw)
	}
}
