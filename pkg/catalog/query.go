package catalog

import (
	"strings"

	"github.com/agentstation/dupewatch/pkg/errors"
)

var queryEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// FieldQuery builds a query matching assets whose field equals value.
// The value is quoted so query syntax characters in it stay literal.
func FieldQuery(field, value string) string {
	return field + `:"` + queryEscaper.Replace(value) + `"`
}

// ParseFieldQuery is the inverse of FieldQuery.
func ParseFieldQuery(query string) (field, value string, err error) {
	field, quoted, ok := strings.Cut(query, ":")
	if !ok || field == "" {
		return "", "", errors.NewValidationError("query", query, "expected field:value")
	}

	if len(quoted) < 2 || quoted[0] != '"' || quoted[len(quoted)-1] != '"' {
		// unquoted value, taken literally
		return field, quoted, nil
	}

	var b strings.Builder
	inner := quoted[1 : len(quoted)-1]
	for i := 0; i < len(inner); i++ {
		if inner[i] == '\\' && i+1 < len(inner) {
			i++
		}
		b.WriteByte(inner[i])
	}
	return field, b.String(), nil
}
