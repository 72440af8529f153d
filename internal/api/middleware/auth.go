package middleware

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/bcnelson/stacks/internal/domain"
	"github.com/bcnelson/stacks/internal/storage"
	"github.com/bcnelson/stacks/internal/validation"
)

// BootstrapUser is the name of the identity granted by the bootstrap key.
const BootstrapUser = "bootstrap"

// Identity is the authenticated caller of a request.
type Identity struct {
	User      *domain.User
	APIKey    *domain.APIKey // nil for bootstrap and OIDC identities
	Bootstrap bool
}

type identityKey struct{}

// WithIdentity stores the identity in the context.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext retrieves the identity from the request context.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}

// TokenVerifier verifies a bearer token that is not an API key and returns
// the user name it was issued to.
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (string, error)
}

// Authenticator resolves bearer tokens into identities.
type Authenticator struct {
	store        storage.Storage
	bootstrapKey string
	verifier     TokenVerifier
	logger       *slog.Logger
}

// NewAuthenticator creates an Authenticator. verifier may be nil, in which case
// only API keys and the bootstrap key are accepted.
func NewAuthenticator(store storage.Storage, bootstrapKey string, verifier TokenVerifier, logger *slog.Logger) *Authenticator {
	return &Authenticator{
		store:        store,
		bootstrapKey: bootstrapKey,
		verifier:     verifier,
		logger:       logger,
	}
}

// Middleware rejects requests without a valid bearer token.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			respondUnauthorized(w, "missing authorization header")
			return
		}

		token, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok {
			respondUnauthorized(w, "invalid authorization header format")
			return
		}
		if token == "" {
			respondUnauthorized(w, "empty bearer token")
			return
		}

		id, err := a.authenticate(r.Context(), token)
		if err != nil {
			if errors.Is(err, domain.ErrUnauthorized) {
				respondUnauthorized(w, "invalid credentials")
				return
			}
			a.logger.ErrorContext(r.Context(), "authentication failed", "error", err)
			respondJSONError(w, http.StatusInternalServerError, "internal server error")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

func (a *Authenticator) authenticate(ctx context.Context, token string) (*Identity, error) {
	keyCount, err := a.store.CountAPIKeys(ctx)
	if err != nil {
		return nil, err
	}

	// The bootstrap key only works until the first API key exists.
	if keyCount == 0 && a.bootstrapKey != "" {
		if subtle.ConstantTimeCompare([]byte(token), []byte(a.bootstrapKey)) == 1 {
			return &Identity{User: &domain.User{Name: BootstrapUser}, Bootstrap: true}, nil
		}
	}

	storedKey, err := a.store.GetAPIKeyByHash(ctx, HashAPIKey(token))
	switch {
	case err == nil:
		user, err := a.store.GetUserByName(ctx, storedKey.UserName)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrUnauthorized
		}
		if err != nil {
			return nil, err
		}

		// Update last used timestamp (fire and forget)
		go func() {
			_ = a.store.UpdateAPIKeyLastUsed(context.Background(), storedKey.ID)
		}()

		return &Identity{User: user, APIKey: storedKey}, nil
	case !errors.Is(err, domain.ErrNotFound):
		return nil, err
	}

	if a.verifier == nil {
		return nil, domain.ErrUnauthorized
	}
	name, err := a.verifier.Verify(ctx, token)
	if err != nil {
		a.logger.DebugContext(ctx, "bearer token rejected", "error", err)
		return nil, domain.ErrUnauthorized
	}
	if err := validation.ValidateEntityName(name); err != nil {
		a.logger.WarnContext(ctx, "token carries an unusable user name", "user", name, "error", err)
		return nil, domain.ErrUnauthorized
	}
	user, err := a.store.EnsureUser(ctx, name)
	if err != nil {
		return nil, err
	}
	return &Identity{User: user}, nil
}

// RequireGroups only lets through identities belonging to one of groups.
// The bootstrap identity passes when allowBootstrap is set.
func RequireGroups(groups []string, allowBootstrap bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := IdentityFromContext(r.Context())
			if id == nil {
				respondUnauthorized(w, "authentication required")
				return
			}
			if (id.Bootstrap && allowBootstrap) || (!id.Bootstrap && id.User.InGroup(groups...)) {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			json.NewEncoder(w).Encode(map[string]any{
				"status": "error",
				"errors": []map[string]string{{
					"location": "header",
					"field":    "Authorization",
					"message":  id.User.Name + " is not a member of " + strings.Join(groups, ", "),
				}},
			})
		})
	}
}

// HashAPIKey creates a SHA-256 hash of the API key.
// We use SHA-256 for fast lookups since API keys are already high-entropy random strings.
func HashAPIKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

func respondUnauthorized(w http.ResponseWriter, message string) {
	respondJSONError(w, http.StatusUnauthorized, message)
}

func respondJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(&domain.APIError{Code: status, Message: message})
}
