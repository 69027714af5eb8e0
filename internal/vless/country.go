package vless

import (
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// countryName resolves an ISO 3166-1 alpha-2 code to its English name.
func countryName(code string) (string, bool) {
	region, err := language.ParseRegion(code)
	if err != nil || !region.IsCountry() {
		return "", false
	}
	name := display.English.Regions().Name(region)
	if name == "" {
		return code, true
	}
	return name, true
}
