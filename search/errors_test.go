package search

import (
	"context"
	"errors"
	"net/http"
	"testing"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	goerrors "github.com/goliatone/go-errors"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-recall-search/cursor"
	"github.com/goliatone/go-recall-search/keyset"
)

func TestError_CarriesGoErrorsDetail(t *testing.T) {
	cause := errors.New("disk I/O error")
	serr := storeError(cause)

	detail := serr.Detail()
	require.NotNil(t, detail)
	assert.Equal(t, goerrors.CategoryInternal, detail.Category)
	assert.Equal(t, CodeStoreFailure, detail.TextCode)
	assert.Equal(t, http.StatusInternalServerError, detail.Code)
	assert.Equal(t, serr.CorrelationID, detail.RequestID)
	assert.ErrorIs(t, serr, cause)
	assert.True(t, goerrors.IsCategory(serr, goerrors.CategoryInternal))
}

func TestError_Categories(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		category goerrors.Category
	}{
		{name: "client input", err: planError(keyset.ErrUnconstrained), category: goerrors.CategoryBadInput},
		{name: "validation", err: validationError(validation.Errors{"limit": errors.New("must be between 1 and 100")}), category: goerrors.CategoryValidation},
		{name: "cursor", err: cursorError(cursor.ErrCursorExpired), category: CategoryCursor},
		{name: "not found", err: notFoundError("x", nil), category: goerrors.CategoryNotFound},
		{name: "unavailable", err: storeError(repository.MapDatabaseError(errors.New("connection refused"), "postgres")), category: goerrors.CategoryExternal},
		{name: "timeout", err: storeError(context.DeadlineExceeded), category: CategoryTimeout},
		{name: "canceled", err: storeError(context.Canceled), category: CategoryCanceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.category, tt.err.Category())
		})
	}
}

func TestError_ValidationFields(t *testing.T) {
	serr := validationError(validation.Errors{
		"limit":      errors.New("must be between 1 and 100"),
		"risk_level": errors.New("must be a valid value"),
	})

	assert.Equal(t, CodeInvalidLimit, serr.Code)
	assert.Equal(t, map[string]string{
		"limit":      "must be between 1 and 100",
		"risk_level": "must be a valid value",
	}, serr.Fields())
	assert.Nil(t, storeError(errors.New("boom")).Fields())
}

func TestStoreError_CanceledIsNotATimeout(t *testing.T) {
	serr := storeError(context.Canceled)

	assert.Equal(t, KindCanceled, serr.Kind)
	assert.Equal(t, CodeRequestCanceled, serr.Code)
	assert.Equal(t, StatusClientClosedRequest, serr.Status)
	assert.False(t, serr.ServerSide())
	assert.Empty(t, serr.CorrelationID)

	timeout := storeError(context.DeadlineExceeded)
	assert.Equal(t, KindTimeout, timeout.Kind)
	assert.True(t, timeout.ServerSide())
	assert.NotEmpty(t, timeout.CorrelationID)
}

func TestError_ZeroValue(t *testing.T) {
	serr := &Error{Kind: KindNotFound, Code: CodeRecordNotFound, Message: "gone"}

	assert.Nil(t, serr.Detail())
	assert.Nil(t, serr.Fields())
	assert.Equal(t, goerrors.CategoryNotFound, serr.Category())
	assert.Equal(t, "record_not_found: gone", serr.Error())
}
