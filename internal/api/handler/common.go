package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/bcnelson/stacks/internal/api/middleware"
	"github.com/bcnelson/stacks/internal/domain"
	"github.com/bcnelson/stacks/internal/notify"
	"github.com/bcnelson/stacks/internal/storage"
	"github.com/bcnelson/stacks/internal/validation"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// respondJSON writes a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError writes a JSON error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, &domain.APIError{
		Code:    status,
		Message: message,
	})
}

// handleError converts domain errors to HTTP errors.
func handleError(w http.ResponseWriter, err error) {
	var verrs validation.ValidationErrors
	var forbidden *domain.ForbiddenError
	switch {
	case errors.As(err, &verrs):
		respondValidationErrors(w, http.StatusBadRequest, verrs)
	case errors.As(err, &forbidden):
		respondValidationErrors(w, http.StatusForbidden, validation.ValidationErrors{{
			Location: validation.LocationBody,
			Field:    forbidden.Field,
			Message:  forbidden.Message,
		}})
	case errors.Is(err, domain.ErrNotFound):
		respondError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrAlreadyExists):
		respondError(w, http.StatusConflict, "already exists")
	case errors.Is(err, domain.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, "invalid input")
	case errors.Is(err, domain.ErrUnauthorized):
		respondError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, domain.ErrForbidden):
		respondError(w, http.StatusForbidden, "forbidden")
	default:
		respondError(w, http.StatusInternalServerError, "internal server error")
	}
}

// decodeJSON decodes JSON from request body.
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return domain.ErrInvalidInput
	}
	return nil
}

// urlParam returns the unescaped path parameter key.
func urlParam(r *http.Request, key string) string {
	raw := chi.URLParam(r, key)
	if v, err := url.PathUnescape(raw); err == nil {
		return v
	}
	return raw
}

// generateID generates a new UUID.
func generateID() string {
	return uuid.New().String()
}

// generateAPIKey generates a new random API key.
func generateAPIKey() (key string, hash string, prefix string, err error) {
	// Generate 32 random bytes for the key
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", "", "", err
	}

	key = "stk_" + hex.EncodeToString(bytes)
	hash = middleware.HashAPIKey(key)
	prefix = key[:12] // "stk_" + first 8 chars of hex

	return key, hash, prefix, nil
}

// respondValidationErrors writes the error body shared by 400 and 403 responses.
func respondValidationErrors(w http.ResponseWriter, status int, errs validation.ValidationErrors) {
	respondJSON(w, status, map[string]any{
		"status": "error",
		"errors": errs,
	})
}

// handleValidation responds to a failed Validate call, attributing field
// errors to location.
func handleValidation(w http.ResponseWriter, err error, location string) {
	var errs validation.ValidationErrors
	if errors.As(err, &errs) {
		respondValidationErrors(w, http.StatusBadRequest, errs.At(location))
		return
	}
	handleError(w, err)
}

// withTx runs fn inside a transaction. Notifications fn publishes are only
// forwarded once the transaction has committed and are dropped otherwise.
func withTx(ctx context.Context, store storage.Storage, pub notify.Publisher, fn func(tx storage.Transaction, pub notify.Publisher) error) error {
	tx, err := store.BeginTx(ctx)
	if err != nil {
		return err
	}

	outbox := notify.NewOutbox(pub)
	if err := fn(tx, outbox); err != nil {
		outbox.Discard()
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		outbox.Discard()
		_ = tx.Rollback()
		return err
	}

	outbox.Flush(ctx)
	return nil
}

// actor returns the authenticated user behind the request.
func actor(r *http.Request) (*domain.User, error) {
	id := middleware.IdentityFromContext(r.Context())
	if id == nil || id.User == nil {
		return nil, domain.ErrUnauthorized
	}
	return id.User, nil
}
