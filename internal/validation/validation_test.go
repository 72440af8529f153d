package validation

import (
	"errors"
	"strings"
	"testing"

	"github.com/bcnelson/stacks/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateEntityName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "gnome", false},
		{"with dash and dot", "python3.12-extras", false},
		{"with spaces inside", "GNOME 46", false},
		{"max length", strings.Repeat("a", MaxNameLength), false},
		{"empty", "", true},
		{"too long", strings.Repeat("a", MaxNameLength+1), true},
		{"leading space", " gnome", true},
		{"trailing space", "gnome ", true},
		{"slash", "gnome/kde", true},
		{"control char", "gno\x00me", true},
		{"newline", "gnome\n", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEntityName(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidatorSaveStackRequest(t *testing.T) {
	v := New()

	t.Run("valid", func(t *testing.T) {
		err := v.Validate(&domain.SaveStackRequest{
			Name:     "gnome",
			Packages: []string{"gnome-shell"},
			Users:    []string{"alice"},
			Groups:   []string{},
		})
		assert.NoError(t, err)
	})

	t.Run("missing name", func(t *testing.T) {
		err := v.Validate(&domain.SaveStackRequest{})
		var errs ValidationErrors
		require.True(t, errors.As(err, &errs))
		require.Len(t, errs, 1)
		assert.Equal(t, "name", errs[0].Field)
		assert.Equal(t, "is required", errs[0].Message)
	})

	t.Run("bad list entry", func(t *testing.T) {
		err := v.Validate(&domain.SaveStackRequest{
			Name:     "gnome",
			Packages: []string{"ok", "not/ok"},
		})
		var errs ValidationErrors
		require.True(t, errors.As(err, &errs))
		require.Len(t, errs, 1)
		assert.Equal(t, "packages[1]", errs[0].Field)
		assert.Equal(t, "not/ok", errs[0].Value)
		assert.Contains(t, errs[0].Message, "'/'")
	})

	t.Run("description too long", func(t *testing.T) {
		err := v.Validate(&domain.SaveStackRequest{
			Name:        "gnome",
			Description: strings.Repeat("x", 4097),
		})
		var errs ValidationErrors
		require.True(t, errors.As(err, &errs))
		assert.Equal(t, "description", errs[0].Field)
		assert.Equal(t, "must be at most 4096 characters", errs[0].Message)
	})
}

func TestValidatorListQuery(t *testing.T) {
	v := New()

	assert.NoError(t, v.Validate(&domain.ListStacksQuery{Page: 1, RowsPerPage: 20}))

	err := v.Validate(&domain.ListStacksQuery{Page: 0, RowsPerPage: 500})
	var errs ValidationErrors
	require.True(t, errors.As(err, &errs))
	require.Len(t, errs, 2)
	assert.Equal(t, "page", errs[0].Field)
	assert.Equal(t, "must be at least 1", errs[0].Message)
	assert.Equal(t, "rows_per_page", errs[1].Field)
	assert.Equal(t, "must be at most 100", errs[1].Message)
}

func TestValidationErrorsAt(t *testing.T) {
	var errs ValidationErrors
	errs.Add("name", "", "is required")
	errs = append(errs, &ValidationError{Location: LocationURL, Field: "id"})

	errs.At(LocationBody)
	assert.Equal(t, LocationBody, errs[0].Location)
	assert.Equal(t, LocationURL, errs[1].Location)
	assert.True(t, errs.HasErrors())
	assert.Equal(t, "name: is required (and 1 more errors)", errs.Error())
}
