package responses

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/lastbite/lastbite-backend/pkg/errors"
	"github.com/lastbite/lastbite-backend/pkg/types"
)

func TestWriteSuccessStatus(t *testing.T) {
	w := httptest.NewRecorder()
	WriteSuccessStatus(w, http.StatusCreated, map[string]string{"status": "reserved"})

	require.Equal(t, http.StatusCreated, w.Code)
	var body types.SuccessEnvelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "reserved", body.Data.(map[string]any)["status"])
}

func TestWriteErrorStatusByCode(t *testing.T) {
	cases := []struct {
		err    error
		status int
		msg    string
	}{
		{pkgerrors.New(pkgerrors.CodeConflict, "offer is already reserved"), http.StatusConflict, "offer is already reserved"},
		{pkgerrors.New(pkgerrors.CodeExpired, "pickup code expired"), http.StatusGone, "pickup code expired"},
		{pkgerrors.New(pkgerrors.CodeStateConflict, "payment has not been received"), http.StatusUnprocessableEntity, "payment has not been received"},
		{fmt.Errorf("wrapped: %w", pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")), http.StatusNotFound, "transaction not found"},
		{pkgerrors.Wrap(pkgerrors.CodeDependency, errors.New("stripe down"), "create transfer"), http.StatusServiceUnavailable, "temporarily unavailable"},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		WriteError(httptest.NewRequest(http.MethodGet, "/", nil).Context(), nil, w, tc.err)

		require.Equal(t, tc.status, w.Code, tc.err.Error())
		var body types.ErrorEnvelope
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, tc.msg, body.Error.Message)
	}
}

func TestWriteErrorKeepsAllowedDetails(t *testing.T) {
	w := httptest.NewRecorder()
	err := pkgerrors.New(pkgerrors.CodeValidation, "validation failed").
		WithDetails(map[string]string{"offer_id": "is required"})
	WriteError(httptest.NewRequest(http.MethodGet, "/", nil).Context(), nil, w, err)

	require.Equal(t, http.StatusBadRequest, w.Code)
	var body types.ErrorEnvelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, string(pkgerrors.CodeValidation), body.Error.Code)
	assert.NotNil(t, body.Error.Details)
}

func TestWriteErrorDefaultsToInternalForUntypedErrors(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(httptest.NewRequest(http.MethodGet, "/", nil).Context(), nil, w, errors.New("boom"))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	var body types.ErrorEnvelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, string(pkgerrors.CodeInternal), body.Error.Code)
	assert.Nil(t, body.Error.Details)
	assert.NotContains(t, body.Error.Message, "boom")
}

func TestWriteErrorEchoesRequestID(t *testing.T) {
	w := httptest.NewRecorder()
	w.Header().Set("X-Request-Id", "req-42")
	WriteError(httptest.NewRequest(http.MethodGet, "/", nil).Context(), nil, w, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found"))

	var body types.ErrorEnvelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "req-42", body.RequestID)
	assert.Equal(t, "transaction not found", body.Error.Message)
}

func TestWriteErrorMapsTransientDatabaseErrors(t *testing.T) {
	w := httptest.NewRecorder()
	err := fmt.Errorf("claim payout: %w", &pgconn.PgError{Code: "40001", Message: "could not serialize access"})
	WriteError(httptest.NewRequest(http.MethodGet, "/", nil).Context(), nil, w, err)

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}
