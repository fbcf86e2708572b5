package domain

import "strings"

// Visibility controls who a photo is meant for. Only public is enforced by
// anything today; the field is carried through to the record verbatim.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
	VisibilityShared  Visibility = "shared"
)

// Valid reports whether v is one of the known visibilities.
func (v Visibility) Valid() bool {
	switch v {
	case VisibilityPublic, VisibilityPrivate, VisibilityShared:
		return true
	}
	return false
}

// ParseVisibility maps an empty value to public and rejects unknown ones.
func ParseVisibility(raw string) (Visibility, error) {
	v := Visibility(strings.ToLower(strings.TrimSpace(raw)))
	if v == "" {
		return VisibilityPublic, nil
	}
	if !v.Valid() {
		return "", NewValidationError("visibility must be public, private or shared")
	}
	return v, nil
}

// PhotoRecord is a published photo as stored in the author's repository.
// URI and AuthorDID are assigned by the repository and never supplied by callers.
type PhotoRecord struct {
	URI         string
	AuthorDID   string
	Image       string
	Thumbnail   string
	Tags        []string
	Location    string
	Visibility  Visibility
	Description string
	CreatedAt   string
}

// PhotoInput is the caller-supplied part of a PhotoRecord.
type PhotoInput struct {
	Image       string
	Thumbnail   string
	Tags        []string
	Location    string
	Visibility  Visibility
	Description string
	CreatedAt   string
}

// Input strips the repository-assigned fields, which is how a record is
// copied when its tags are edited.
func (p PhotoRecord) Input() PhotoInput {
	return PhotoInput{
		Image:       p.Image,
		Thumbnail:   p.Thumbnail,
		Tags:        append([]string(nil), p.Tags...),
		Location:    p.Location,
		Visibility:  p.Visibility,
		Description: p.Description,
		CreatedAt:   p.CreatedAt,
	}
}

// NormalizeTags trims tags and drops empties and duplicates, keeping order.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

// PhotoPage is one page of a listing. Fetched and Cursor describe the page
// as the repository returned it, so a record that could not be decoded
// still counts toward paging.
type PhotoPage struct {
	Records []PhotoRecord
	Fetched int
	// Cursor is the record key of the last fetched record.
	Cursor string
}
