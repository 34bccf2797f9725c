// Package discovery filters the full upstream catalog down to the configured
// AMC and category subset and labels each match with its canonical AMC and
// category. Matching is case-insensitive substring matching against scheme
// names, which is as much structure as the upstream exposes.
package discovery

import (
	"strings"

	"github.com/prashant21b/kreditbee/internal/mfapi"
)

// Canonical category labels derived from scheme-name tokens.
const (
	CategoryMidCap   = "Mid Cap Direct Growth"
	CategorySmallCap = "Small Cap Direct Growth"
)

// Scheme is a normalized descriptor ready for ingestion.
type Scheme struct {
	SchemeCode string
	SchemeName string
	AMC        string
	Category   string
}

// Filter holds the three rule sets. A scheme matches iff its name contains
// any AMC AND any category token AND every mandatory token.
type Filter struct {
	AMCs       []string
	Categories []string
	Mandatory  []string
}

// DefaultFilter targets direct-growth mid- and small-cap schemes from the
// tracked asset managers.
func DefaultFilter() Filter {
	return Filter{
		AMCs: []string{
			"HDFC",
			"Axis",
			"SBI",
			"Kotak",
			"Nippon",
			"Motilal Oswal",
			"Edelweiss",
			"Quant",
			"Tata",
			"PGIM",
		},
		Categories: []string{"mid cap", "midcap", "small cap", "smallcap"},
		Mandatory:  []string{"direct", "growth"},
	}
}

// Match reports whether a scheme name passes all three rule sets.
func (f Filter) Match(schemeName string) bool {
	name := strings.ToLower(schemeName)

	if !containsAny(name, f.AMCs) {
		return false
	}
	if !containsAny(name, f.Categories) {
		return false
	}
	for _, token := range f.Mandatory {
		if !strings.Contains(name, strings.ToLower(token)) {
			return false
		}
	}
	return true
}

// Categorize labels a matching scheme with the first matching AMC and the
// category derived from its name tokens. ok is false when no category token
// is recognized.
func (f Filter) Categorize(schemeName string) (amc, category string, ok bool) {
	name := strings.ToLower(schemeName)

	for _, candidate := range f.AMCs {
		if strings.Contains(name, strings.ToLower(candidate)) {
			amc = candidate
			break
		}
	}
	if amc == "" {
		return "", "", false
	}

	switch {
	case strings.Contains(name, "mid cap") || strings.Contains(name, "midcap"):
		category = CategoryMidCap
	case strings.Contains(name, "small cap") || strings.Contains(name, "smallcap"):
		category = CategorySmallCap
	default:
		return "", "", false
	}

	return amc, category, true
}

// Discover filters and labels the catalog, deduplicating by scheme code while
// preserving catalog order.
func Discover(refs []mfapi.SchemeRef, f Filter) []Scheme {
	seen := make(map[string]struct{}, len(refs))
	var schemes []Scheme

	for _, ref := range refs {
		if ref.SchemeCode == "" || !f.Match(ref.SchemeName) {
			continue
		}
		amc, category, ok := f.Categorize(ref.SchemeName)
		if !ok {
			continue
		}
		if _, dup := seen[ref.SchemeCode]; dup {
			continue
		}
		seen[ref.SchemeCode] = struct{}{}
		schemes = append(schemes, Scheme{
			SchemeCode: ref.SchemeCode,
			SchemeName: ref.SchemeName,
			AMC:        amc,
			Category:   category,
		})
	}

	return schemes
}

func containsAny(name string, tokens []string) bool {
	for _, token := range tokens {
		if strings.Contains(name, strings.ToLower(token)) {
			return true
		}
	}
	return false
}
