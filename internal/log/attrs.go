package log

import (
	"log/slog"
)

// Err returns an Attr for the given error value, or "no-error" for nil.
func Err(key string, value error) slog.Attr {
	if value == nil {
		return slog.String(key, "no-error")
	}
	return slog.String(key, value.Error())
}

// ID returns a string Attr for any string-backed identifier type.
func ID[T ~string](key string, value T) slog.Attr {
	return slog.String(key, string(value))
}
