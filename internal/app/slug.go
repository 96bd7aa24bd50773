package app

import (
	"regexp"
	"strings"
)

const maxSlugLength = 100

var (
	slugInvalidChars = regexp.MustCompile(`[^a-z0-9\s\p{Zs}-]`)
	slugSeparators   = regexp.MustCompile(`[\s\p{Zs}_]+`)
	slugHyphenRuns   = regexp.MustCompile(`-+`)
)

// Slugify lowercases name, keeps only [a-z0-9], whitespace and hyphens,
// turns whitespace runs into single hyphens and trims hyphens at the edges.
// The result is at most 100 characters and never empty.
func Slugify(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = slugInvalidChars.ReplaceAllString(slug, "")
	slug = slugSeparators.ReplaceAllString(slug, "-")
	slug = slugHyphenRuns.ReplaceAllString(slug, "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > maxSlugLength {
		slug = slug[:maxSlugLength]
	}
	if slug == "" {
		return "workspace"
	}
	return slug
}

// slugWithSuffix appends "-suffix" to base, shortening base so the result
// stays within the slug length limit.
func slugWithSuffix(base, suffix string) string {
	if keep := maxSlugLength - len(suffix) - 1; len(base) > keep {
		base = strings.TrimRight(base[:keep], "-")
	}
	return base + "-" + suffix
}
