package flow_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/authstress/internal/credential"
	"github.com/wesleyorama2/authstress/internal/credstore"
	"github.com/wesleyorama2/authstress/internal/flow"
	"github.com/wesleyorama2/authstress/internal/scenario"
)

var alice = credential.Credential{Username: "alice1", Password: "P@ssw0rd", DisplayName: "Alice A."}

type capturedRequest struct {
	Path        string
	ContentType string
	Body        map[string]any
}

// authServer answers register with 200 {"success":true} and login with
// tokens when the password matches what the store holds.
type authServer struct {
	*httptest.Server
	store credstore.Store

	mu       sync.Mutex
	requests []capturedRequest
}

func newAuthServer(t *testing.T, store credstore.Store) *authServer {
	t.Helper()
	s := &authServer{store: store}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)

		s.mu.Lock()
		s.requests = append(s.requests, capturedRequest{
			Path:        r.URL.Path,
			ContentType: r.Header.Get("Content-Type"),
			Body:        body,
		})
		s.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/auth/register":
			w.Write([]byte(`{"success": true}`))
		case "/auth/login":
			// The store is written before login, so a match proves ordering.
			username, _ := body["username"].(string)
			pw, ok, _ := store.Get(r.Context(), username)
			if ok && pw == body["password"] {
				w.Write([]byte(`{"access_token":"t1","refresh_token":"t2"}`))
				return
			}
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"Invalid username or password"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *authServer) captured() []capturedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]capturedRequest(nil), s.requests...)
}

type sampleRecorder struct {
	mu      sync.Mutex
	samples []flow.RequestSample
}

func (r *sampleRecorder) RecordRequest(s flow.RequestSample) {
	r.mu.Lock()
	r.samples = append(r.samples, s)
	r.mu.Unlock()
}

func noThinkConfig(baseURL string) flow.Config {
	cfg := flow.DefaultConfig(baseURL)
	cfg.ThinkTimeMin = 0
	cfg.ThinkTimeMax = 0
	return cfg
}

func quietLogger() logrus.FieldLogger {
	log, _ := test.NewNullLogger()
	return log
}

func TestRun_RegisterThenLogin(t *testing.T) {
	store := credstore.NewMemoryStore()
	srv := newAuthServer(t, store)
	rec := &sampleRecorder{}

	exec, err := flow.NewExecutor(noThinkConfig(srv.URL), srv.Client(), store,
		flow.WithRecorder(rec), flow.WithLogger(quietLogger()))
	require.NoError(t, err)

	result, err := exec.Run(context.Background(), scenario.NewDecision(scenario.RegisterThenLogin), alice)
	require.NoError(t, err)

	require.NotNil(t, result.Register)
	require.NotNil(t, result.Login)
	assert.Equal(t, "ValidRegister", result.Register.Tag)
	assert.Equal(t, "ValidLogin", result.Login.Tag)
	assert.Equal(t, http.StatusOK, result.Register.StatusCode)
	assert.Equal(t, http.StatusOK, result.Login.StatusCode)
	assert.JSONEq(t, `{"access_token":"t1","refresh_token":"t2"}`, string(result.Login.Body))

	pw, ok, err := store.Get(context.Background(), "alice1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "P@ssw0rd", pw)

	reqs := srv.captured()
	require.Len(t, reqs, 2)
	assert.Equal(t, "/auth/register", reqs[0].Path)
	assert.Equal(t, "/auth/login", reqs[1].Path)
	for _, r := range reqs {
		assert.Equal(t, "application/json", r.ContentType)
	}
	assert.Equal(t, map[string]any{"username": "alice1", "password": "P@ssw0rd", "display_name": "Alice A."}, reqs[0].Body)
	assert.Equal(t, map[string]any{"username": "alice1", "password": "P@ssw0rd"}, reqs[1].Body)

	require.Len(t, rec.samples, 2)
	assert.Equal(t, "ValidRegister", rec.samples[0].Tag)
	assert.Equal(t, "ValidLogin", rec.samples[1].Tag)
	assert.Equal(t, int64(len(result.Login.Body)), rec.samples[1].Bytes)
}

func TestRun_LoginOnly(t *testing.T) {
	store := credstore.NewMemoryStore()
	srv := newAuthServer(t, store)

	exec, err := flow.NewExecutor(noThinkConfig(srv.URL), srv.Client(), store, flow.WithLogger(quietLogger()))
	require.NoError(t, err)

	result, err := exec.Run(context.Background(), scenario.NewDecision(scenario.LoginOnlyExpectFailure), alice)
	require.NoError(t, err)

	assert.Nil(t, result.Register)
	require.NotNil(t, result.Login)
	assert.Equal(t, "InvalidLogin", result.Login.Tag)
	assert.Equal(t, http.StatusUnauthorized, result.Login.StatusCode)

	n, err := store.Len(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "login-only iterations must not write the store")
	assert.Len(t, srv.captured(), 1)
}

func TestRun_RegisterTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	baseURL := srv.URL
	srv.Close()

	store := credstore.NewMemoryStore()
	rec := &sampleRecorder{}
	log, hook := test.NewNullLogger()

	exec, err := flow.NewExecutor(noThinkConfig(baseURL), &http.Client{Timeout: 2 * time.Second}, store,
		flow.WithRecorder(rec), flow.WithLogger(log))
	require.NoError(t, err)

	result, err := exec.Run(context.Background(), scenario.NewDecision(scenario.RegisterThenLogin), alice)
	require.NoError(t, err)

	require.NotNil(t, result.Register)
	assert.Error(t, result.Register.Err)
	assert.Zero(t, result.Register.StatusCode)
	assert.Nil(t, result.Login, "login is skipped after a failed registration")

	n, _ := store.Len(context.Background())
	assert.Zero(t, n)

	require.Len(t, rec.samples, 1)
	assert.Error(t, rec.samples[0].Err)

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, "alice1", hook.LastEntry().Data["username"])
}

type failingStore struct{ credstore.MemoryStore }

func (*failingStore) Put(context.Context, string, string) error {
	return errors.New("out of memory")
}

func TestRun_StoreFailureIsSharedStateError(t *testing.T) {
	srv := newAuthServer(t, credstore.NewMemoryStore())

	exec, err := flow.NewExecutor(noThinkConfig(srv.URL), srv.Client(), &failingStore{}, flow.WithLogger(quietLogger()))
	require.NoError(t, err)

	result, err := exec.Run(context.Background(), scenario.NewDecision(scenario.RegisterThenLogin), alice)
	require.Error(t, err)
	assert.ErrorIs(t, err, flow.ErrSharedState)
	assert.NotNil(t, result.Register)
	assert.Nil(t, result.Login)
}

func TestRun_CancelDuringThinkTimeSkipsLogin(t *testing.T) {
	store := credstore.NewMemoryStore()
	srv := newAuthServer(t, store)

	cfg := flow.DefaultConfig(srv.URL)
	cfg.ThinkTimeMin = time.Minute
	cfg.ThinkTimeMax = time.Minute
	exec, err := flow.NewExecutor(cfg, srv.Client(), store, flow.WithLogger(quietLogger()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	start := time.Now()
	result, err := exec.Run(ctx, scenario.NewDecision(scenario.RegisterThenLogin), alice)
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 5*time.Second)
	assert.True(t, result.Interrupted)
	assert.NotNil(t, result.Register)
	assert.Nil(t, result.Login)

	_, ok, _ := store.Get(context.Background(), "alice1")
	assert.True(t, ok, "a completed registration is stored even when the run ends")
}

func TestRun_InFlightRequestSurvivesCancel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"Invalid username or password"}`))
	}))
	defer srv.Close()

	exec, err := flow.NewExecutor(noThinkConfig(srv.URL), srv.Client(), credstore.NewMemoryStore(), flow.WithLogger(quietLogger()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, func() {
		cancel()
		time.Sleep(50 * time.Millisecond)
		close(release)
	})

	result, err := exec.Run(ctx, scenario.NewDecision(scenario.LoginOnlyExpectFailure), alice)
	require.NoError(t, err)
	require.NotNil(t, result.Login)
	assert.NoError(t, result.Login.Err)
	assert.Equal(t, http.StatusUnauthorized, result.Login.StatusCode)
}

func TestThinkTime_WithinBounds(t *testing.T) {
	exec, err := flow.NewExecutor(flow.DefaultConfig("http://localhost:3000"), http.DefaultClient, credstore.NewMemoryStore())
	require.NoError(t, err)

	for i := 0; i < 1000; i++ {
		d := exec.ThinkTime()
		if d < 2*time.Second || d > 12*time.Second {
			t.Fatalf("ThinkTime() = %v, want within [2s, 12s]", d)
		}
	}
}

func TestNewExecutor_Validation(t *testing.T) {
	store := credstore.NewMemoryStore()
	tests := []struct {
		name   string
		cfg    flow.Config
		client *http.Client
		store  credstore.Store
	}{
		{"nil client", flow.DefaultConfig("http://localhost"), nil, store},
		{"nil store", flow.DefaultConfig("http://localhost"), http.DefaultClient, nil},
		{"bad scheme", flow.DefaultConfig("ftp://localhost"), http.DefaultClient, store},
		{"bad url", flow.DefaultConfig("http://[::1"), http.DefaultClient, store},
		{"think range", flow.Config{BaseURL: "http://localhost", ThinkTimeMin: time.Second}, http.DefaultClient, store},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := flow.NewExecutor(tt.cfg, tt.client, tt.store)
			assert.Error(t, err)
		})
	}
}

func TestRun_SampleExpectedStatus(t *testing.T) {
	store := credstore.NewMemoryStore()
	srv := newAuthServer(t, store)
	rec := &sampleRecorder{}

	exec, err := flow.NewExecutor(noThinkConfig(srv.URL), srv.Client(), store,
		flow.WithRecorder(rec), flow.WithLogger(quietLogger()))
	require.NoError(t, err)

	_, err = exec.Run(context.Background(), scenario.NewDecision(scenario.LoginOnlyExpectFailure), alice)
	require.NoError(t, err)

	require.Len(t, rec.samples, 1)
	assert.Equal(t, http.StatusUnauthorized, rec.samples[0].ExpectedStatus)
	assert.False(t, rec.samples[0].Failed(), "an expected 401 is not a failed request")

	unexpected := flow.RequestSample{StatusCode: 500, ExpectedStatus: 200}
	assert.True(t, unexpected.Failed())
}
