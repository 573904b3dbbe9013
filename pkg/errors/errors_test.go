package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataStatuses(t *testing.T) {
	statuses := map[Code]int{
		CodeValidation:    http.StatusBadRequest,
		CodeUnauthorized:  http.StatusUnauthorized,
		CodeForbidden:     http.StatusForbidden,
		CodeNotFound:      http.StatusNotFound,
		CodeConflict:      http.StatusConflict,
		CodeExpired:       http.StatusGone,
		CodeStateConflict: http.StatusUnprocessableEntity,
		CodeRateLimit:     http.StatusTooManyRequests,
		CodeInternal:      http.StatusInternalServerError,
		CodeDependency:    http.StatusServiceUnavailable,
	}
	for code, status := range statuses {
		meta := MetadataFor(code)
		assert.Equal(t, status, meta.HTTPStatus, code)
		assert.NotEmpty(t, meta.PublicMessage, code)
	}

	assert.Equal(t, MetadataFor(CodeInternal), MetadataFor("SOMETHING_UNKNOWN"))
	assert.False(t, MetadataFor(CodeNotFound).DetailsAllowed)
	assert.True(t, MetadataFor(CodeExpired).DetailsAllowed)
}

func TestWithDetailsCopies(t *testing.T) {
	sentinel := New(CodeExpired, "pickup code expired")
	withDetails := sentinel.WithDetails(map[string]any{"transaction_id": "t-1"})

	assert.Nil(t, sentinel.Details())
	assert.NotNil(t, withDetails.Details())
	assert.True(t, stdErrors.Is(withDetails, sentinel))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := stdErrors.New("stripe timeout")
	wrapped := Wrap(CodeDependency, cause, "create transfer")

	assert.True(t, stdErrors.Is(wrapped, cause))
	assert.Equal(t, CodeDependency, wrapped.Code())
	assert.Equal(t, "DEPENDENCY_ERROR: create transfer", wrapped.Error())
	assert.Equal(t, New(CodeNotFound, "x").Code(), Wrap(CodeNotFound, nil, "x").Code())
}

func TestIsDistinguishesSentinels(t *testing.T) {
	reserved := New(CodeConflict, "offer already reserved")
	claimed := New(CodeConflict, "payout already claimed")

	assert.False(t, stdErrors.Is(reserved, claimed))
	assert.True(t, stdErrors.Is(fmt.Errorf("reserve: %w", reserved), reserved))
	require.NotNil(t, As(fmt.Errorf("reserve: %w", reserved)))
	assert.Nil(t, As(nil))
	assert.Nil(t, As(stdErrors.New("plain")))
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(New(CodeStateConflict, "bad transition")))
	assert.True(t, IsRetryable(New(CodeDependency, "provider down")))
	assert.True(t, IsRetryable(&pgconn.PgError{Code: "40P01"}))
	assert.False(t, IsRetryable(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsRetryable(stdErrors.New("plain")))
}

func TestDumpReadsBothPostgresDrivers(t *testing.T) {
	pgxErr := fmt.Errorf("insert: %w", &pgconn.PgError{
		Code:           "23505",
		ConstraintName: "transactions_open_offer_uniq",
		TableName:      "transactions",
	})
	d := Dump(pgxErr)
	assert.Equal(t, "23505", d.PGCode)
	assert.Equal(t, "transactions_open_offer_uniq", d.PGConstraint)
	assert.False(t, d.Transient)
	assert.Len(t, d.Chain, 2)

	pqErr := &pq.Error{Code: "40001", Table: "transactions"}
	d = Dump(pqErr)
	assert.Equal(t, "40001", d.PGCode)
	assert.True(t, d.Transient)

	typed := Dump(Wrap(CodeConflict, stdErrors.New("dup"), "reserve"))
	assert.Equal(t, CodeConflict, typed.Code)
	assert.Empty(t, typed.PGCode)
	assert.Equal(t, ErrorDump{}, Dump(nil))
}

func TestPublicMessage(t *testing.T) {
	notFound := New(CodeNotFound, "transaction not found")
	assert.Equal(t, "transaction not found", notFound.PublicMessage())

	internal := Wrap(CodeInternal, stdErrors.New("dial tcp: refused"), "load transaction")
	assert.Equal(t, "internal server error", internal.PublicMessage())
	assert.Nil(t, internal.WithDetails(map[string]string{"host": "db"}).PublicDetails())

	expired := New(CodeExpired, "").WithDetails(map[string]string{"field": "code"})
	assert.Equal(t, "no longer valid", expired.PublicMessage())
	assert.NotNil(t, expired.PublicDetails())
}
