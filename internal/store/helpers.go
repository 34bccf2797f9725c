package store

import (
	"database/sql"
	"strings"
)

const dateLayout = "2006-01-02"

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// likePattern lowercases user input and escapes LIKE wildcards so filters
// stay plain substring matches.
func likePattern(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}
