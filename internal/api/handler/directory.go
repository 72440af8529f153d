package handler

import (
	"log/slog"
	"net/http"

	"github.com/bcnelson/stacks/internal/domain"
	"github.com/bcnelson/stacks/internal/notify"
	"github.com/bcnelson/stacks/internal/storage"
	"github.com/bcnelson/stacks/internal/validation"
)

// DirectoryHandler handles user and group endpoints.
type DirectoryHandler struct {
	store     storage.Storage
	validator *validation.Validator
	logger    *slog.Logger
}

// NewDirectoryHandler creates a new DirectoryHandler.
func NewDirectoryHandler(store storage.Storage, validator *validation.Validator, logger *slog.Logger) *DirectoryHandler {
	return &DirectoryHandler{store: store, validator: validator, logger: logger}
}

// GetUser gets a user and its group memberships by name.
func (h *DirectoryHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.store.GetUserByName(r.Context(), urlParam(r, "name"))
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, user)
}

// SetUserGroups replaces the group memberships of a user, creating the user
// and any missing groups.
func (h *DirectoryHandler) SetUserGroups(w http.ResponseWriter, r *http.Request) {
	name := urlParam(r, "name")
	if err := validation.ValidateEntityName(name); err != nil {
		respondValidationErrors(w, http.StatusBadRequest, validation.ValidationErrors{{
			Location: validation.LocationURL,
			Field:    "name",
			Value:    name,
			Message:  err.Error(),
		}})
		return
	}

	var req domain.SetUserGroupsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validator.Validate(&req); err != nil {
		handleValidation(w, err, validation.LocationBody)
		return
	}

	var user *domain.User
	// Directory changes publish nothing, so the outbox stays empty.
	err := withTx(r.Context(), h.store, notify.NewOutbox(nil), func(tx storage.Transaction, _ notify.Publisher) error {
		u, err := tx.EnsureUser(r.Context(), name)
		if err != nil {
			return err
		}

		groupIDs := make([]string, 0, len(req.Groups))
		for _, groupName := range req.Groups {
			g, err := tx.EnsureGroup(r.Context(), groupName)
			if err != nil {
				return err
			}
			groupIDs = append(groupIDs, g.ID)
		}

		if err := tx.SetUserGroups(r.Context(), u.ID, groupIDs); err != nil {
			return err
		}

		user, err = tx.GetUserByName(r.Context(), name)
		return err
	})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "setting user groups failed", "user", name, "error", err)
		handleError(w, err)
		return
	}

	h.logger.InfoContext(r.Context(), "updated user groups", "user", name, "groups", req.Groups)
	respondJSON(w, http.StatusOK, user)
}

// GetGroup gets a group and its members by name.
func (h *DirectoryHandler) GetGroup(w http.ResponseWriter, r *http.Request) {
	group, err := h.store.GetGroupByName(r.Context(), urlParam(r, "name"))
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, group)
}
