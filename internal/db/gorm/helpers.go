// Package gorm provides GORM-based session persistence for clidesk.
package gorm

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"
)

// timestampPrecision is the finest resolution every supported backend keeps.
const timestampPrecision = time.Microsecond

// nextUpdatedAt returns a timestamp strictly after prev, normally the current time.
func nextUpdatedAt(prev time.Time) time.Time {
	now := time.Now().UTC().Truncate(timestampPrecision)
	if !now.After(prev) {
		return prev.UTC().Truncate(timestampPrecision).Add(timestampPrecision)
	}
	return now
}

// sqlNullString creates a sql.NullString from a string.
func sqlNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}

func sqlNullInt64(n int) sql.NullInt64 {
	if n == 0 {
		return sql.NullInt64{Valid: false}
	}
	return sql.NullInt64{Int64: int64(n), Valid: true}
}

// ParseLimitParam parses the "limit" query parameter from an HTTP request.
// Returns defaultLimit if the parameter is missing or invalid.
func ParseLimitParam(r *http.Request, defaultLimit int) int {
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultLimit
}

// ParseOffsetParam parses the "offset" query parameter, defaulting to 0.
func ParseOffsetParam(r *http.Request) int {
	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed > 0 {
			return parsed
		}
	}
	return 0
}
