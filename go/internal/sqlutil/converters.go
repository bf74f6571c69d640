package sqlutil

import (
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// Helper functions for converting between Go pointers and pgtype nullable values

// ToNullInt8 converts a Go int64 pointer to pgtype.Int8
func ToNullInt8(val *int64) pgtype.Int8 {
	if val == nil {
		return pgtype.Int8{Valid: false}
	}
	return pgtype.Int8{Int64: *val, Valid: true}
}

// FromNullInt8 converts pgtype.Int8 to a Go int64 pointer
func FromNullInt8(val pgtype.Int8) *int64 {
	if !val.Valid {
		return nil
	}
	i := val.Int64
	return &i
}

// FromNullTime converts pgtype.Timestamptz to a Go time pointer
func FromNullTime(val pgtype.Timestamptz) *time.Time {
	if !val.Valid {
		return nil
	}
	t := val.Time
	return &t
}

// FromNullText converts pgtype.Text to a Go string with default
func FromNullText(val pgtype.Text, defaultVal string) string {
	if !val.Valid {
		return defaultVal
	}
	return val.String
}
