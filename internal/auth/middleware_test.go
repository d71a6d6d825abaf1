package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("test-secret")

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Subject", UserIDFromRequest(r))
		w.WriteHeader(http.StatusOK)
	})
}

func serve(t *testing.T, handler http.Handler, method, target, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	return resp
}

func mustToken(t *testing.T, subject string, role Role) string {
	t.Helper()
	token, err := IssueJWT(secret, subject, role, time.Hour)
	require.NoError(t, err)
	return token
}

func TestAuthMiddleware_NoToken(t *testing.T) {
	handler := NewMiddleware(secret, NewDefaultPolicy(nil, nil)).Wrap(okHandler())

	resp := serve(t, handler, http.MethodGet, "/api/v1/alerts", "")
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestAuthMiddleware_ViewerForbiddenDecision(t *testing.T) {
	handler := NewMiddleware(secret, NewDefaultPolicy(nil, nil)).Wrap(okHandler())

	resp := serve(t, handler, http.MethodPost, "/api/v1/alerts/decision", mustToken(t, "viewer-1", RoleViewer))
	assert.Equal(t, http.StatusForbidden, resp.Code)
}

func TestAuthMiddleware_OperatorDecisionCarriesSubject(t *testing.T) {
	handler := NewMiddleware(secret, NewDefaultPolicy(nil, nil)).Wrap(okHandler())

	resp := serve(t, handler, http.MethodPost, "/api/v1/alerts/decision", mustToken(t, "op-7", RoleOperator))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "op-7", resp.Header().Get("X-Subject"))
}

func TestAuthMiddleware_SweepNeedsAdmin(t *testing.T) {
	handler := NewMiddleware(secret, NewDefaultPolicy(nil, nil)).Wrap(okHandler())

	assert.Equal(t, http.StatusForbidden, serve(t, handler, http.MethodPost, "/api/v1/rules/sweep", mustToken(t, "op", RoleOperator)).Code)
	assert.Equal(t, http.StatusOK, serve(t, handler, http.MethodPost, "/api/v1/rules/sweep", mustToken(t, "root", RoleAdmin)).Code)
}

func TestAuthMiddleware_ExemptAndIngest(t *testing.T) {
	handler := NewMiddleware(secret, NewDefaultPolicy([]string{"/healthz"}, nil)).Wrap(okHandler())

	assert.Equal(t, http.StatusOK, serve(t, handler, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusOK, serve(t, handler, http.MethodPost, "/api/v1/metrics", "").Code)
	assert.Equal(t, http.StatusOK, serve(t, handler, http.MethodOptions, "/api/v1/alerts", "").Code)
}

func TestAuthMiddleware_QueryToken(t *testing.T) {
	handler := NewMiddleware(secret, NewDefaultPolicy(nil, nil)).Wrap(okHandler())

	resp := serve(t, handler, http.MethodGet, "/api/v1/alerts/stream?access_token="+mustToken(t, "dash", RoleViewer), "")
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestAuthMiddleware_RejectionBodies(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	handler := NewMiddleware(secret, NewDefaultPolicy(nil, nil), WithMiddlewareLogger(logger)).Wrap(okHandler())

	cases := []struct {
		name    string
		method  string
		target  string
		token   string
		status  int
		message string
	}{
		{"missing", http.MethodGet, "/api/v1/alerts", "", http.StatusUnauthorized, "Authentication required"},
		{"garbage", http.MethodGet, "/api/v1/alerts", "not-a-jwt", http.StatusUnauthorized, "Invalid or expired token"},
		{"role", http.MethodGet, "/api/v1/audit", mustToken(t, "op", RoleOperator), http.StatusForbidden, "Insufficient role for this operation"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := serve(t, handler, tc.method, tc.target, tc.token)
			require.Equal(t, tc.status, resp.Code)
			assert.Equal(t, "application/json", resp.Header().Get("Content-Type"))
			var body map[string]string
			require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
			assert.Equal(t, http.StatusText(tc.status), body["error"])
			assert.Equal(t, tc.message, body["message"])

			entry := hook.LastEntry()
			require.NotNil(t, entry)
			assert.Equal(t, "request rejected", entry.Message)
			assert.Equal(t, tc.target, entry.Data["path"])
		})
	}
}

func TestAuthMiddleware_MalformedHeader(t *testing.T) {
	handler := NewMiddleware(secret, NewDefaultPolicy(nil, nil)).Wrap(okHandler())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/alerts", nil)
	req.Header.Set("Authorization", "Basic "+mustToken(t, "u", RoleAdmin))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestParseJWTRejectsWrongSecret(t *testing.T) {
	token := mustToken(t, "u", RoleViewer)
	_, err := ParseJWT(token, []byte("other"))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestUserIDFromRequestFallbacks(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	assert.Equal(t, DefaultDecisionUser, UserIDFromRequest(req))

	req.Header.Set("X-User-Id", "manager-2")
	assert.Equal(t, "manager-2", UserIDFromRequest(req))

	req = req.WithContext(WithIdentity(req.Context(), RoleOperator, "op-1"))
	assert.Equal(t, "op-1", UserIDFromRequest(req))
}

func TestIngestSignature(t *testing.T) {
	mw := NewIngestAuthMiddleware(secret, time.Minute)
	fixed := time.Unix(1_700_000_000, 0)
	mw.now = func() time.Time { return fixed }
	handler := mw.Wrap(okHandler())

	body := `{"stationId":"ST-1"}`
	ts := strconv.FormatInt(fixed.Unix(), 10)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/metrics", strings.NewReader(body))
	req.Header.Set(ingestTimestampHeader, ts)
	req.Header.Set(ingestSignatureHeader, SignIngest(secret, ts, []byte(body)))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusOK, resp.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/metrics", strings.NewReader(body))
	req.Header.Set(ingestTimestampHeader, ts)
	req.Header.Set(ingestSignatureHeader, "deadbeef")
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	stale := strconv.FormatInt(fixed.Add(-time.Hour).Unix(), 10)
	req = httptest.NewRequest(http.MethodPost, "/api/v1/metrics", strings.NewReader(body))
	req.Header.Set(ingestTimestampHeader, stale)
	req.Header.Set(ingestSignatureHeader, SignIngest(secret, stale, []byte(body)))
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}
