// Package content names the learning material served under the protected
// sections (courses, guides, interview questions, design case studies).
package content

import (
	"errors"
	"regexp"
)

var (
	// ErrSlugEmpty is returned when a slug is empty.
	ErrSlugEmpty = errors.New("slug must not be empty")

	// ErrSlugFormat is returned when a slug does not match the required pattern.
	ErrSlugFormat = errors.New("slug must contain only lowercase alphanumeric characters and hyphens, and must not start or end with a hyphen")

	// ErrSlugTooLong is returned for slugs over MaxSlugLength.
	ErrSlugTooLong = errors.New("slug is too long")

	slugPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9\-]*[a-z0-9])?$`)
)

// MaxSlugLength bounds a content slug.
const MaxSlugLength = 96

// ValidateSlug checks that slug can name a piece of content. It does not
// check that the content exists.
func ValidateSlug(slug string) error {
	switch {
	case slug == "":
		return ErrSlugEmpty
	case len(slug) > MaxSlugLength:
		return ErrSlugTooLong
	case !slugPattern.MatchString(slug):
		return ErrSlugFormat
	}
	return nil
}
