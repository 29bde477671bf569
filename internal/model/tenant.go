package model

import "strings"

// DefaultTenantID is used when a tenant id sanitizes to nothing.
const DefaultTenantID = "default"

// SanitizeTenantID reduces a raw tenant (site) id to the characters allowed in
// storage names: ASCII letters, digits, '-' and '_'. Anything else is dropped.
func SanitizeTenantID(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return DefaultTenantID
	}
	return b.String()
}
