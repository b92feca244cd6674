package mockauth_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/authstress/internal/mockauth"
)

func newServer(t *testing.T) (*mockauth.Server, *httptest.Server) {
	t.Helper()
	log, _ := test.NewNullLogger()
	s, err := mockauth.New(mockauth.WithLogger(log))
	require.NoError(t, err)

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return s, srv
}

func post(t *testing.T, srv *httptest.Server, path, body string) (int, map[string]any) {
	t.Helper()
	resp, err := srv.Client().Post(srv.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	return resp.StatusCode, out
}

func TestRegister(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantError  string
	}{
		{"valid", `{"username":"alice1","password":"P@ssw0rd","display_name":"Alice A."}`, 200, ""},
		{"short username", `{"username":"al","password":"P@ssw0rd"}`, 400, mockauth.MsgInvalidUsername},
		{"long username", `{"username":"` + strings.Repeat("a", 33) + `","password":"P@ssw0rd"}`, 400, mockauth.MsgInvalidUsername},
		{"dash in username", `{"username":"al-ice","password":"P@ssw0rd"}`, 400, mockauth.MsgInvalidUsername},
		{"short password", `{"username":"bob_1","password":"1234567"}`, 400, mockauth.MsgInsecurePassword},
		{"bad json", `{"username":`, 400, mockauth.MsgBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, srv := newServer(t)
			status, body := post(t, srv, "/auth/register", tt.body)
			assert.Equal(t, tt.wantStatus, status)
			if tt.wantError == "" {
				assert.Equal(t, true, body["success"])
			} else {
				assert.Equal(t, tt.wantError, body["error"])
			}
		})
	}
}

func TestRegister_DuplicateIsCaseInsensitive(t *testing.T) {
	s, srv := newServer(t)

	status, _ := post(t, srv, "/auth/register", `{"username":"alice1","password":"P@ssw0rd"}`)
	require.Equal(t, 200, status)

	status, body := post(t, srv, "/auth/register", `{"username":"ALICE1","password":"other-password"}`)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, mockauth.MsgUsernameTaken, body["error"])
	assert.Equal(t, 1, s.Users())
}

func TestLogin(t *testing.T) {
	s, srv := newServer(t)
	status, _ := post(t, srv, "/auth/register", `{"username":"alice1","password":"P@ssw0rd","display_name":"Alice A."}`)
	require.Equal(t, 200, status)

	t.Run("success", func(t *testing.T) {
		status, body := post(t, srv, "/auth/login", `{"username":"alice1","password":"P@ssw0rd"}`)
		require.Equal(t, 200, status)

		access, ok := body["access_token"].(string)
		require.True(t, ok)
		assert.NotEmpty(t, body["refresh_token"])

		claims, err := s.Tokens().Parse(access)
		require.NoError(t, err)
		assert.Equal(t, "alice1", claims.Username)
		assert.NotEmpty(t, claims.ID)
	})

	t.Run("case insensitive username", func(t *testing.T) {
		status, _ := post(t, srv, "/auth/login", `{"username":"Alice1","password":"P@ssw0rd"}`)
		assert.Equal(t, 200, status)
	})

	t.Run("wrong password", func(t *testing.T) {
		status, body := post(t, srv, "/auth/login", `{"username":"alice1","password":"wrong-password"}`)
		assert.Equal(t, http.StatusUnauthorized, status)
		assert.Equal(t, mockauth.MsgInvalidLogin, body["error"])
	})

	t.Run("unknown user", func(t *testing.T) {
		status, body := post(t, srv, "/auth/login", `{"username":"nobody","password":"P@ssw0rd"}`)
		assert.Equal(t, http.StatusUnauthorized, status)
		assert.Equal(t, mockauth.MsgInvalidLogin, body["error"])
	})
}

func TestLogin_LongPasswordsStayDistinct(t *testing.T) {
	_, srv := newServer(t)
	base := strings.Repeat("x", 80)

	status, _ := post(t, srv, "/auth/register", `{"username":"longpw","password":"`+base+`A"}`)
	require.Equal(t, 200, status)

	status, _ = post(t, srv, "/auth/login", `{"username":"longpw","password":"`+base+`B"}`)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = post(t, srv, "/auth/login", `{"username":"longpw","password":"`+base+`A"}`)
	assert.Equal(t, http.StatusOK, status)
}

func TestRegister_Concurrent(t *testing.T) {
	s, srv := newServer(t)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body := fmt.Sprintf(`{"username":"user_%d","password":"P@ssw0rd"}`, i)
			resp, err := srv.Client().Post(srv.URL+"/auth/register", "application/json", strings.NewReader(body))
			if err == nil {
				resp.Body.Close()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, n, s.Users())
}

func TestHealth(t *testing.T) {
	_, srv := newServer(t)
	resp, err := srv.Client().Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTokenIssuer_RejectsForeignToken(t *testing.T) {
	a, err := mockauth.NewTokenIssuer([]byte("secret-a"), "mock", time.Minute)
	require.NoError(t, err)
	b, err := mockauth.NewTokenIssuer([]byte("secret-b"), "mock", time.Minute)
	require.NoError(t, err)

	access, refresh, err := a.Issue("alice1")
	require.NoError(t, err)
	assert.NotEqual(t, access, refresh)

	_, err = b.Parse(access)
	assert.Error(t, err)

	_, err = mockauth.NewTokenIssuer(nil, "mock", 0)
	assert.Error(t, err)
}

func TestListenAndServe_StopsOnCancel(t *testing.T) {
	log, _ := test.NewNullLogger()
	s, err := mockauth.New(mockauth.WithLogger(log))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("ListenAndServe did not return after cancel")
	}
}
