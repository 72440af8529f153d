package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/bcnelson/stacks/internal/domain"
	"github.com/bcnelson/stacks/internal/notify"
	"github.com/bcnelson/stacks/internal/service"
	"github.com/bcnelson/stacks/internal/storage"
	"github.com/bcnelson/stacks/internal/validation"
)

// StackHandler handles stack endpoints.
type StackHandler struct {
	store     storage.Storage
	publisher notify.Publisher
	validator *validation.Validator
	logger    *slog.Logger
}

// NewStackHandler creates a new StackHandler.
func NewStackHandler(store storage.Storage, publisher notify.Publisher, validator *validation.Validator, logger *slog.Logger) *StackHandler {
	return &StackHandler{store: store, publisher: publisher, validator: validator, logger: logger}
}

type stackResponse struct {
	Stack *domain.Stack `json:"stack"`
}

// Get returns a single stack by name.
func (h *StackHandler) Get(w http.ResponseWriter, r *http.Request) {
	stack, err := validation.NewResolver(h.store).ResolveStack(r.Context(), urlParam(r, "name"))
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, stackResponse{Stack: stack})
}

// List returns a page of stacks.
func (h *StackHandler) List(w http.ResponseWriter, r *http.Request) {
	query, errs := parseListQuery(r.URL.Query())
	if errs.HasErrors() {
		respondValidationErrors(w, http.StatusBadRequest, errs.At(validation.LocationQuery))
		return
	}
	if err := h.validator.Validate(query); err != nil {
		handleValidation(w, err, validation.LocationQuery)
		return
	}

	filter, err := validation.NewResolver(h.store).ResolveListQuery(r.Context(), query)
	if err != nil {
		handleError(w, err)
		return
	}

	page, err := service.NewStackService(h.store, h.publisher, h.logger).List(r.Context(), filter)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "listing stacks failed", "error", err)
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, page)
}

// Save creates or updates a stack.
func (h *StackHandler) Save(w http.ResponseWriter, r *http.Request) {
	var req domain.SaveStackRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validator.Validate(&req); err != nil {
		handleValidation(w, err, validation.LocationBody)
		return
	}

	user, err := actor(r)
	if err != nil {
		handleError(w, err)
		return
	}

	var saved *domain.Stack
	err = withTx(r.Context(), h.store, h.publisher, func(tx storage.Transaction, pub notify.Publisher) error {
		in, err := validation.NewResolver(tx).ResolveSave(r.Context(), &req)
		if err != nil {
			return err
		}
		current, err := reloadUser(r, tx, user)
		if err != nil {
			return err
		}
		saved, err = service.NewStackService(tx, pub, h.logger).Save(r.Context(), in, current)
		return err
	})
	if err != nil {
		h.logFailure(r, "saving stack failed", req.Name, err)
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, stackResponse{Stack: saved})
}

// Delete deletes a stack.
func (h *StackHandler) Delete(w http.ResponseWriter, r *http.Request) {
	name := urlParam(r, "name")

	user, err := actor(r)
	if err != nil {
		handleError(w, err)
		return
	}

	err = withTx(r.Context(), h.store, h.publisher, func(tx storage.Transaction, pub notify.Publisher) error {
		stack, err := validation.NewResolver(tx).ResolveStack(r.Context(), name)
		if err != nil {
			return err
		}
		current, err := reloadUser(r, tx, user)
		if err != nil {
			return err
		}
		return service.NewStackService(tx, pub, h.logger).Delete(r.Context(), stack, current)
	})
	if err != nil {
		h.logFailure(r, "deleting stack failed", name, err)
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (h *StackHandler) logFailure(r *http.Request, msg, stack string, err error) {
	var verrs validation.ValidationErrors
	if errors.Is(err, domain.ErrForbidden) || errors.Is(err, domain.ErrNotFound) || errors.As(err, &verrs) {
		return
	}
	h.logger.ErrorContext(r.Context(), msg, "stack", stack, "error", err)
}

// reloadUser reads the acting user inside the transaction so the ownership
// check sees current group memberships.
func reloadUser(r *http.Request, tx storage.Transaction, user *domain.User) (*domain.User, error) {
	current, err := tx.GetUserByName(r.Context(), user.Name)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrUnauthorized
	}
	return current, err
}

// parseListQuery reads the listing parameters. packages may be repeated or
// comma separated.
func parseListQuery(values url.Values) (*domain.ListStacksQuery, validation.ValidationErrors) {
	var errs validation.ValidationErrors
	q := &domain.ListStacksQuery{
		Name:        values.Get("name"),
		Like:        values.Get("like"),
		Page:        1,
		RowsPerPage: domain.DefaultRowsPerPage,
	}

	for _, v := range values["packages"] {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				q.Packages = append(q.Packages, name)
			}
		}
	}

	if v := values.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs.Add("page", v, "must be an integer")
		} else {
			q.Page = n
		}
	}
	if v := values.Get("rows_per_page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs.Add("rows_per_page", v, "must be an integer")
		} else {
			q.RowsPerPage = n
		}
	}

	return q, errs
}
