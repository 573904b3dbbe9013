package validators

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	pkgerrors "github.com/lastbite/lastbite-backend/pkg/errors"
)

func invalidParam(field, message string, extra map[string]any) error {
	details := map[string]any{"field": field}
	for k, v := range extra {
		details[k] = v
	}
	return pkgerrors.New(pkgerrors.CodeValidation, message).WithDetails(details)
}

// ParseQuery runs parse over the trimmed query value for key. A missing or
// blank value yields the zero T and no error.
func ParseQuery[T any](r *http.Request, key string, parse func(string) (T, error)) (T, error) {
	var zero T
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return zero, nil
	}
	value, err := parse(raw)
	if err != nil {
		return zero, invalidParam(key, "invalid query parameter", nil)
	}
	return value, nil
}

// ParseQueryInt reads an integer in [min, max], falling back to def when absent.
func ParseQueryInt(r *http.Request, key string, def, min, max int) (int, error) {
	if strings.TrimSpace(r.URL.Query().Get(key)) == "" {
		return def, nil
	}
	value, err := ParseQuery(r, key, strconv.Atoi)
	if err != nil {
		return 0, err
	}
	if value < min || value > max {
		return 0, invalidParam(key, "query parameter out of range", map[string]any{"min": min, "max": max})
	}
	return value, nil
}

// ParseUUIDParam reads a chi path parameter as a non-nil uuid.
func ParseUUIDParam(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, name)))
	if err != nil || id == uuid.Nil {
		return uuid.Nil, invalidParam(name, "invalid path parameter", nil)
	}
	return id, nil
}
