package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/bcnelson/stacks/internal/domain"
	"github.com/bcnelson/stacks/internal/storage"
	"github.com/bcnelson/stacks/internal/validation"
	"github.com/go-chi/chi/v5"
)

// APIKeyHandler handles API key endpoints.
type APIKeyHandler struct {
	store     storage.Storage
	validator *validation.Validator
	logger    *slog.Logger
}

// NewAPIKeyHandler creates a new APIKeyHandler.
func NewAPIKeyHandler(store storage.Storage, validator *validation.Validator, logger *slog.Logger) *APIKeyHandler {
	return &APIKeyHandler{store: store, validator: validator, logger: logger}
}

// Create creates a new API key acting as the requested user.
func (h *APIKeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateAPIKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.validator.Validate(&req); err != nil {
		handleValidation(w, err, validation.LocationBody)
		return
	}

	user, err := h.store.EnsureUser(r.Context(), req.User)
	if err != nil {
		handleError(w, err)
		return
	}

	key, hash, prefix, err := generateAPIKey()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to generate API key")
		return
	}

	apiKey := &domain.APIKey{
		ID:        generateID(),
		Name:      req.Name,
		UserName:  user.Name,
		KeyHash:   hash,
		KeyPrefix: prefix,
		CreatedAt: time.Now(),
	}

	if err := h.store.CreateAPIKey(r.Context(), apiKey); err != nil {
		handleError(w, err)
		return
	}

	resp := &domain.CreateAPIKeyResponse{
		ID:        apiKey.ID,
		Name:      apiKey.Name,
		User:      apiKey.UserName,
		Key:       key, // Only returned on creation
		KeyPrefix: apiKey.KeyPrefix,
		CreatedAt: apiKey.CreatedAt,
	}

	h.logger.InfoContext(r.Context(), "created api key", "id", apiKey.ID, "user", apiKey.UserName)
	respondJSON(w, http.StatusCreated, resp)
}

// List lists all API keys (without the actual key values).
func (h *APIKeyHandler) List(w http.ResponseWriter, r *http.Request) {
	keys, err := h.store.ListAPIKeys(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, keys)
}

// Delete deletes an API key.
func (h *APIKeyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "id is required")
		return
	}

	if err := h.store.DeleteAPIKey(r.Context(), id); err != nil {
		handleError(w, err)
		return
	}

	h.logger.InfoContext(r.Context(), "deleted api key", "id", id)
	w.WriteHeader(http.StatusNoContent)
}
