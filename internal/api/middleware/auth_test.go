package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bcnelson/stacks/internal/domain"
	"github.com/bcnelson/stacks/internal/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeVerifier map[string]string

func (f fakeVerifier) Verify(ctx context.Context, rawToken string) (string, error) {
	name, ok := f[rawToken]
	if !ok {
		return "", errors.New("bad token")
	}
	return name, nil
}

// whoami echoes the authenticated user name.
var whoami = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	id := IdentityFromContext(r.Context())
	w.Write([]byte(id.User.Name))
})

func serve(h http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestAuthenticatorRejectsMissingOrMalformed(t *testing.T) {
	h := NewAuthenticator(memory.New(), "boot", nil, discardLogger).Middleware(whoami)

	assert.Equal(t, http.StatusUnauthorized, serve(h, "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(h, "nope").Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAuthenticatorBootstrapKey(t *testing.T) {
	store := memory.New()
	h := NewAuthenticator(store, "boot", nil, discardLogger).Middleware(whoami)

	rr := serve(h, "boot")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, BootstrapUser, rr.Body.String())

	// Once a key exists the bootstrap key stops working.
	require.NoError(t, store.CreateAPIKey(context.Background(), &domain.APIKey{
		ID: "k1", Name: "ci", UserName: "alice", KeyHash: HashAPIKey("real"), CreatedAt: time.Now(),
	}))
	assert.Equal(t, http.StatusUnauthorized, serve(h, "boot").Code)
}

func TestAuthenticatorAPIKey(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	_, err := store.EnsureUser(ctx, "alice")
	require.NoError(t, err)
	require.NoError(t, store.CreateAPIKey(ctx, &domain.APIKey{
		ID: "k1", Name: "ci", UserName: "alice", KeyHash: HashAPIKey("stk_secret"), CreatedAt: time.Now(),
	}))

	h := NewAuthenticator(store, "", nil, discardLogger).Middleware(whoami)

	rr := serve(h, "stk_secret")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "alice", rr.Body.String())

	assert.Equal(t, http.StatusUnauthorized, serve(h, "stk_wrong").Code)
}

func TestAuthenticatorOIDCToken(t *testing.T) {
	store := memory.New()
	verifier := fakeVerifier{"id-token": "carol", "odd-token": "bad/name"}
	h := NewAuthenticator(store, "", verifier, discardLogger).Middleware(whoami)

	rr := serve(h, "id-token")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "carol", rr.Body.String())

	// The user is created on first sight.
	_, err := store.GetUserByName(context.Background(), "carol")
	assert.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, serve(h, "odd-token").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(h, "forged").Code)
}

func TestRequireGroups(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	run := func(id *Identity, allowBootstrap bool) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if id != nil {
			req = req.WithContext(WithIdentity(req.Context(), id))
		}
		rr := httptest.NewRecorder()
		RequireGroups([]string{"packager"}, allowBootstrap)(ok).ServeHTTP(rr, req)
		return rr.Code
	}

	packager := &Identity{User: &domain.User{Name: "alice", Groups: []*domain.Group{{Name: "packager"}}}}
	outsider := &Identity{User: &domain.User{Name: "bob"}}
	bootstrap := &Identity{User: &domain.User{Name: BootstrapUser}, Bootstrap: true}

	assert.Equal(t, http.StatusNoContent, run(packager, false))
	assert.Equal(t, http.StatusForbidden, run(outsider, false))
	assert.Equal(t, http.StatusForbidden, run(bootstrap, false))
	assert.Equal(t, http.StatusNoContent, run(bootstrap, true))
	assert.Equal(t, http.StatusUnauthorized, run(nil, false))
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rr.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, "abc-123", seen)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "bad id\n")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.NotEqual(t, "bad id\n", seen)
}
