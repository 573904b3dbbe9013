package pagination

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// cursorLen is 8 bytes of unix nanoseconds followed by the 16-byte row id.
const cursorLen = 8 + 16

var ErrInvalidCursor = errors.New("pagination: invalid cursor")

// Params is what a list endpoint receives from the caller.
type Params struct {
	Limit  int
	Cursor string
}

// Cursor is the (created_at, id) of the last row already returned.
type Cursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

type Page[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
}

// Query is a validated Params.
type Query struct {
	Limit int
	After *Cursor
}

func NormalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	}
	return limit
}

// Query clamps the limit and decodes the cursor.
func (p Params) Query() (Query, error) {
	after, err := ParseCursor(p.Cursor)
	if err != nil {
		return Query{}, err
	}
	return Query{Limit: NormalizeLimit(p.Limit), After: after}, nil
}

// Scope orders newest first by created_at then id, skips everything up to the
// cursor and fetches one extra row so Collect can tell whether more exist.
func (q Query) Scope(db *gorm.DB) *gorm.DB {
	if q.After != nil {
		db = db.Where("created_at < ? OR (created_at = ? AND id < ?)", q.After.CreatedAt, q.After.CreatedAt, q.After.ID)
	}
	return db.Order("created_at DESC, id DESC").Limit(NormalizeLimit(q.Limit) + 1)
}

// Collect drops the look-ahead row fetched by Scope and derives the next cursor.
func Collect[T any](rows []T, q Query, key func(T) Cursor) Page[T] {
	limit := NormalizeLimit(q.Limit)
	if rows == nil {
		rows = []T{}
	}
	if len(rows) <= limit {
		return Page[T]{Items: rows}
	}
	rows = rows[:limit]
	return Page[T]{Items: rows, NextCursor: EncodeCursor(key(rows[limit-1]))}
}

func EncodeCursor(c Cursor) string {
	var buf [cursorLen]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(c.CreatedAt.UnixNano()))
	copy(buf[8:], c.ID[:])
	return base64.RawURLEncoding.EncodeToString(buf[:])
}

// ParseCursor returns nil, nil for a blank value.
func ParseCursor(value string) (*Cursor, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil || len(raw) != cursorLen {
		return nil, ErrInvalidCursor
	}
	id, err := uuid.FromBytes(raw[8:])
	if err != nil || id == uuid.Nil {
		return nil, ErrInvalidCursor
	}
	nanos := int64(binary.BigEndian.Uint64(raw[:8]))
	return &Cursor{CreatedAt: time.Unix(0, nanos).UTC(), ID: id}, nil
}
