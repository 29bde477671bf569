package serpapi

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// istanbulLocation is the canonical provider location for the city aliases.
const istanbulLocation = "Istanbul, Turkey"

var locationAliases = map[string]string{
	"Istanbul": istanbulLocation,
	"İstanbul": istanbulLocation,
}

// ResolveLocation maps a configured locality to the provider location string.
// Aliases are matched on the trimmed NFC form, so a decomposed "İ" still
// matches. Any other value is returned unchanged.
func ResolveLocation(location string) string {
	if alias, ok := locationAliases[norm.NFC.String(strings.TrimSpace(location))]; ok {
		return alias
	}
	return location
}
