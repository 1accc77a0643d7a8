package avatar

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/avatharam/backend/internal/httpclient"
)

type recordedCall struct {
	Path   string
	APIKey string
	Auth   string
	Body   map[string]any
}

// fakeVendor serves canned bodies per path and records every call.
type fakeVendor struct {
	t         *testing.T
	mu        sync.Mutex
	calls     []recordedCall
	responses map[string]string
	statuses  map[string]int
}

func newFakeVendor(t *testing.T) (*fakeVendor, *httptest.Server) {
	fv := &fakeVendor{
		t: t,
		responses: map[string]string{
			pathSessionNew:  `{"data":{"session_id":"abc123","offer":{"sdp":"v=0..."},"ice_servers":[{"urls":["stun:x"]}]}}`,
			pathCreateToken: `{"data":{"token":"tok456"}}`,
			pathTask:        `{"data":{}}`,
			pathSessionStop: `{"data":{}}`,
		},
		statuses: map[string]int{},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)

		fv.mu.Lock()
		fv.calls = append(fv.calls, recordedCall{
			Path:   r.URL.Path,
			APIKey: r.Header.Get("x-api-key"),
			Auth:   r.Header.Get("Authorization"),
			Body:   body,
		})
		status := fv.statuses[r.URL.Path]
		resp := fv.responses[r.URL.Path]
		fv.mu.Unlock()

		if status != 0 {
			w.WriteHeader(status)
		}
		_, _ = w.Write([]byte(resp))
	}))
	t.Cleanup(srv.Close)
	return fv, srv
}

func (fv *fakeVendor) set(path, body string) {
	fv.mu.Lock()
	fv.responses[path] = body
	fv.mu.Unlock()
}

func (fv *fakeVendor) fail(path string, status int) {
	fv.mu.Lock()
	fv.statuses[path] = status
	fv.mu.Unlock()
}

func (fv *fakeVendor) callsTo(path string) []recordedCall {
	fv.mu.Lock()
	defer fv.mu.Unlock()
	var out []recordedCall
	for _, c := range fv.calls {
		if c.Path == path {
			out = append(out, c)
		}
	}
	return out
}

func (fv *fakeVendor) paths() []string {
	fv.mu.Lock()
	defer fv.mu.Unlock()
	out := make([]string, 0, len(fv.calls))
	for _, c := range fv.calls {
		out = append(out, c.Path)
	}
	return out
}

type sleepRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	return ctx.Err()
}

func newTestManager(t *testing.T) (*Manager, *fakeVendor, *sleepRecorder) {
	fv, srv := newFakeVendor(t)
	client := NewClient(httpclient.New(5*time.Second), srv.URL, "secret-key")
	m := NewManager(client, Options{Warmup: time.Second, SupersedeDelay: 500 * time.Millisecond})
	rec := &sleepRecorder{}
	m.sleep = rec.sleep
	return m, fv, rec
}

func TestStartEndToEnd(t *testing.T) {
	m, fv, rec := newTestManager(t)

	session, err := m.Start(context.Background(), "June_HR_public", "")
	require.NoError(t, err)

	assert.Equal(t, Session{
		SessionID:   "abc123",
		AccessToken: "tok456",
		Offer:       webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0..."},
		ICEServers:  []webrtc.ICEServer{{URLs: []string{"stun:x"}}},
	}, session)
	assert.Equal(t, StateReady, m.State())

	got, ok := m.Session()
	require.True(t, ok)
	assert.Equal(t, session, got)

	create := fv.callsTo(pathSessionNew)
	require.Len(t, create, 1)
	assert.Equal(t, "secret-key", create[0].APIKey)
	assert.Equal(t, map[string]any{"avatar_id": "June_HR_public"}, create[0].Body)

	token := fv.callsTo(pathCreateToken)
	require.Len(t, token, 1)
	assert.Equal(t, "secret-key", token[0].APIKey)
	assert.Equal(t, map[string]any{"session_id": "abc123"}, token[0].Body)

	assert.Equal(t, []time.Duration{time.Second}, rec.waits, "warm-up only, nothing to supersede")
}

func TestStartSendsVoiceWhenProvided(t *testing.T) {
	m, fv, _ := newTestManager(t)

	_, err := m.Start(context.Background(), "June_HR_public", "voice-1")
	require.NoError(t, err)

	create := fv.callsTo(pathSessionNew)
	require.Len(t, create, 1)
	assert.Equal(t, "voice-1", create[0].Body["voice_id"])
}

func TestStartAlternateResponseKeys(t *testing.T) {
	tests := []struct {
		name      string
		create    string
		token     string
		wantSDP   string
		wantICE   []webrtc.ICEServer
		wantToken string
	}{
		{
			name:      "sdp.sdp and access_token",
			create:    `{"data":{"session_id":"s1","sdp":{"sdp":"v=1"},"ice_servers":[{"urls":"stun:one"}]}}`,
			token:     `{"data":{"access_token":"at"}}`,
			wantSDP:   "v=1",
			wantICE:   []webrtc.ICEServer{{URLs: []string{"stun:one"}}},
			wantToken: "at",
		},
		{
			name: "ice_servers2 preferred over ice_servers",
			create: `{"data":{"session_id":"s2","offer":{"sdp":"v=2"},` +
				`"ice_servers":[{"urls":["stun:old"]}],` +
				`"ice_servers2":[{"urls":["turn:new"],"username":"u","credential":"c"}]}}`,
			token:     `{"data":{"token":"t","access_token":"ignored"}}`,
			wantSDP:   "v=2",
			wantICE:   []webrtc.ICEServer{{URLs: []string{"turn:new"}, Username: "u", Credential: "c"}},
			wantToken: "t",
		},
		{
			name:      "offer preferred over sdp",
			create:    `{"data":{"session_id":"s3","offer":{"sdp":"v=offer"},"sdp":{"sdp":"v=sdp"}}}`,
			token:     `{"data":{"token":"t"}}`,
			wantSDP:   "v=offer",
			wantICE:   FallbackICEServers,
			wantToken: "t",
		},
		{
			name: "unusable ice_servers2 falls through to ice_servers",
			create: `{"data":{"session_id":"s5","offer":{"sdp":"v=5"},` +
				`"ice_servers2":[{"credential":"x"}],"ice_servers":[{"urls":["stun:x"]}]}}`,
			token:     `{"data":{"token":"t"}}`,
			wantSDP:   "v=5",
			wantICE:   []webrtc.ICEServer{{URLs: []string{"stun:x"}}},
			wantToken: "t",
		},
		{
			name:      "fallback stun when no ice list",
			create:    `{"data":{"session_id":"s4","offer":{"sdp":"v=4"},"ice_servers2":[]}}`,
			token:     `{"data":{"token":"t"}}`,
			wantSDP:   "v=4",
			wantICE:   []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}},
			wantToken: "t",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, fv, _ := newTestManager(t)
			fv.set(pathSessionNew, tt.create)
			fv.set(pathCreateToken, tt.token)

			session, err := m.Start(context.Background(), "a", "")
			require.NoError(t, err)
			assert.Equal(t, tt.wantSDP, session.Offer.SDP)
			assert.Equal(t, tt.wantICE, session.ICEServers)
			assert.Equal(t, tt.wantToken, session.AccessToken)
			assert.True(t, session.Complete())
		})
	}
}

func TestStartSessionCreateFailures(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
	}{
		{name: "missing session id", body: `{"data":{"offer":{"sdp":"v=0"}}}`},
		{name: "missing offer", body: `{"data":{"session_id":"abc"}}`},
		{name: "no data", body: `{"message":"ok"}`},
		{name: "http error", body: `{"message":"unauthorized"}`, status: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, fv, _ := newTestManager(t)
			fv.set(pathSessionNew, tt.body)
			if tt.status != 0 {
				fv.fail(pathSessionNew, tt.status)
			}

			var transitions []string
			m.OnTransition(func(from, to State) { transitions = append(transitions, string(from)+">"+string(to)) })

			_, err := m.Start(context.Background(), "a", "")
			require.Error(t, err)

			var createErr *SessionCreateError
			assert.True(t, errors.As(err, &createErr))
			assert.True(t, IsHandshakeError(err))
			assert.Equal(t, StateIdle, m.State())
			_, ok := m.Session()
			assert.False(t, ok)
			assert.Empty(t, fv.callsTo(pathCreateToken))
			assert.Equal(t, []string{"idle>starting", "starting>failed", "failed>idle"}, transitions)

			if tt.status != 0 {
				code, ok := httpclient.StatusCode(err)
				assert.True(t, ok)
				assert.Equal(t, tt.status, code)
			}
		})
	}
}

func TestStartTokenFailureCleansUp(t *testing.T) {
	m, fv, rec := newTestManager(t)
	fv.set(pathCreateToken, `{"data":{}}`)

	_, err := m.Start(context.Background(), "a", "")
	require.Error(t, err)

	var tokenErr *TokenCreateError
	require.True(t, errors.As(err, &tokenErr))
	assert.Equal(t, "abc123", tokenErr.SessionID)
	assert.Equal(t, StateIdle, m.State())
	assert.Len(t, fv.callsTo(pathSessionStop), 1, "half-open session is released")
	assert.Empty(t, rec.waits, "no warm-up after a failed token")
}

func TestStartMissingOfferReleasesSession(t *testing.T) {
	m, fv, rec := newTestManager(t)
	fv.set(pathSessionNew, `{"data":{"session_id":"leak"}}`)

	_, err := m.Start(context.Background(), "a", "")
	require.Error(t, err)
	assert.True(t, IsHandshakeError(err))
	assert.Equal(t, StateIdle, m.State())
	assert.Empty(t, fv.callsTo(pathCreateToken))
	assert.Empty(t, rec.waits)

	stops := fv.callsTo(pathSessionStop)
	require.Len(t, stops, 1)
	assert.Equal(t, "leak", stops[0].Body["session_id"])
	assert.Equal(t, "secret-key", stops[0].APIKey, "sessions without a token stop with the api key")
	assert.Empty(t, stops[0].Auth)
}

func TestSpeakRequiresReadySession(t *testing.T) {
	m, fv, _ := newTestManager(t)

	err := m.Speak(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrNoSession)
	assert.Empty(t, fv.callsTo(pathTask))
}

func TestSpeakPostsRepeatTask(t *testing.T) {
	m, fv, _ := newTestManager(t)
	_, err := m.Start(context.Background(), "a", "")
	require.NoError(t, err)

	require.NoError(t, m.Speak(context.Background(), "Hi there"))

	tasks := fv.callsTo(pathTask)
	require.Len(t, tasks, 1)
	assert.Equal(t, "Bearer tok456", tasks[0].Auth)
	assert.Empty(t, tasks[0].APIKey)
	assert.Equal(t, map[string]any{
		"session_id": "abc123",
		"task_type":  "repeat",
		"task_mode":  "sync",
		"text":       "Hi there",
	}, tasks[0].Body)
}

func TestSpeakFailureKeepsSession(t *testing.T) {
	m, fv, _ := newTestManager(t)
	_, err := m.Start(context.Background(), "a", "")
	require.NoError(t, err)
	fv.fail(pathTask, http.StatusInternalServerError)

	err = m.Speak(context.Background(), "x")
	require.Error(t, err)
	assert.Equal(t, StateReady, m.State())
}

func TestStopIsIdempotent(t *testing.T) {
	m, fv, _ := newTestManager(t)
	_, err := m.Start(context.Background(), "a", "")
	require.NoError(t, err)

	first := m.Stop(context.Background())
	assert.True(t, first.Attempted)
	assert.Equal(t, "abc123", first.SessionID)
	assert.NoError(t, first.Err)

	second := m.Stop(context.Background())
	assert.False(t, second.Attempted)
	assert.NoError(t, second.Err)

	assert.Equal(t, StateIdle, m.State())
	stops := fv.callsTo(pathSessionStop)
	require.Len(t, stops, 1)
	assert.Equal(t, "Bearer tok456", stops[0].Auth)
	assert.Equal(t, map[string]any{"session_id": "abc123"}, stops[0].Body)
}

func TestStopFailureStillClears(t *testing.T) {
	m, fv, _ := newTestManager(t)
	_, err := m.Start(context.Background(), "a", "")
	require.NoError(t, err)
	fv.fail(pathSessionStop, http.StatusBadGateway)

	res := m.Stop(context.Background())
	assert.True(t, res.Attempted)
	assert.Error(t, res.Err)
	assert.Equal(t, StateIdle, m.State())
	_, ok := m.Session()
	assert.False(t, ok)
}

func TestStartSupersedesLiveSession(t *testing.T) {
	m, fv, rec := newTestManager(t)
	_, err := m.Start(context.Background(), "a", "")
	require.NoError(t, err)

	fv.set(pathSessionNew, `{"data":{"session_id":"second","offer":{"sdp":"v=0"}}}`)
	fv.fail(pathSessionStop, http.StatusInternalServerError)

	var transitions []string
	m.OnTransition(func(from, to State) { transitions = append(transitions, string(from)+">"+string(to)) })

	session, err := m.Start(context.Background(), "a", "")
	require.NoError(t, err, "a failed stop must not block the replacement")
	assert.Equal(t, "second", session.SessionID)

	assert.Equal(t, []string{
		pathSessionNew, pathCreateToken,
		pathSessionStop, pathSessionNew, pathCreateToken,
	}, fv.paths())
	assert.Equal(t, []string{"ready>idle", "idle>starting", "starting>ready"}, transitions)
	assert.Equal(t, []time.Duration{time.Second, 500 * time.Millisecond, time.Second}, rec.waits)
}

func TestStartRequiresAvatarID(t *testing.T) {
	m, fv, _ := newTestManager(t)

	_, err := m.Start(context.Background(), "  ", "")
	assert.True(t, IsHandshakeError(err))
	assert.Empty(t, fv.paths())
	assert.Equal(t, StateIdle, m.State())
}

func TestWarmupHonoursCancellation(t *testing.T) {
	fv, srv := newFakeVendor(t)
	m := NewManager(NewClient(httpclient.New(time.Second), srv.URL, "k"), Options{Warmup: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for len(fv.callsTo(pathCreateToken)) == 0 {
			time.Sleep(5 * time.Millisecond)
		}
		cancel()
	}()

	_, err := m.Start(ctx, "a", "")
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateIdle, m.State())
	assert.Eventually(t, func() bool { return len(fv.callsTo(pathSessionStop)) == 1 }, time.Second, 10*time.Millisecond)
}

func TestICEServersFromSkipsInvalidEntries(t *testing.T) {
	got := iceServersFrom([]any{
		"not-an-object",
		map[string]any{"urls": []any{}},
		map[string]any{"url": "stun:legacy"},
		map[string]any{"urls": []any{"turn:a", 3, "turn:b"}, "username": "u"},
	})
	assert.Equal(t, []webrtc.ICEServer{
		{URLs: []string{"stun:legacy"}},
		{URLs: []string{"turn:a", "turn:b"}, Username: "u"},
	}, got)
}
