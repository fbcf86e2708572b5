package atproto

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/bluesky-social/indigo/atproto/syntax"

	"atpark/internal/domain"
)

// photoRecord is the JSON shape stored in the photo collection.
type photoRecord struct {
	Type        string   `json:"$type"`
	Image       string   `json:"image"`
	Thumbnail   string   `json:"thumbnail,omitempty"`
	Tags        []string `json:"tags"`
	Location    string   `json:"location,omitempty"`
	Visibility  string   `json:"visibility"`
	Description string   `json:"description,omitempty"`
	CreatedAt   string   `json:"createdAt"`
}

// validateImageURL enforces that images are fetchable HTTPS references and
// never inline payloads; the repository stores metadata, not blobs.
func validateImageURL(field, raw string) error {
	if strings.TrimSpace(raw) == "" {
		return domain.NewValidationError(fmt.Sprintf("%s URL is required", field))
	}
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(raw)), "data:") {
		return domain.NewValidationError(fmt.Sprintf("Cannot store data URLs in records. Upload the %s to storage first.", strings.ToLower(field)))
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return domain.NewValidationError(fmt.Sprintf("Invalid %s URL. Images must be hosted on a secure (https) server.", strings.ToLower(field)))
	}
	return nil
}

func decodePhoto(rec RecordView) (domain.PhotoRecord, error) {
	author, err := AuthorOf(rec.URI)
	if err != nil {
		return domain.PhotoRecord{}, err
	}
	var value photoRecord
	if err := json.Unmarshal(rec.Value, &value); err != nil {
		return domain.PhotoRecord{}, fmt.Errorf("decode record %s: %w", rec.URI, err)
	}
	if value.Image == "" {
		return domain.PhotoRecord{}, fmt.Errorf("record %s has no image", rec.URI)
	}
	visibility := domain.Visibility(value.Visibility)
	if !visibility.Valid() {
		visibility = domain.VisibilityPublic
	}
	tags := value.Tags
	if tags == nil {
		tags = []string{}
	}
	return domain.PhotoRecord{
		URI:         rec.URI,
		AuthorDID:   author,
		Image:       value.Image,
		Thumbnail:   value.Thumbnail,
		Tags:        tags,
		Location:    value.Location,
		Visibility:  visibility,
		Description: value.Description,
		CreatedAt:   value.CreatedAt,
	}, nil
}

// AuthorOf returns the DID in the authority part of an AT-URI.
func AuthorOf(uri string) (string, error) {
	aturi, err := syntax.ParseATURI(uri)
	if err != nil {
		return "", fmt.Errorf("parse record uri %q: %w", uri, err)
	}
	did, err := aturi.Authority().AsDID()
	if err != nil {
		return "", fmt.Errorf("record uri %q has no DID authority: %w", uri, err)
	}
	return did.String(), nil
}

// RecordKeyOf returns the record key, the final path component of uri.
func RecordKeyOf(uri string) string {
	if aturi, err := syntax.ParseATURI(uri); err == nil {
		if rkey := aturi.RecordKey().String(); rkey != "" {
			return rkey
		}
	}
	return uri[strings.LastIndex(uri, "/")+1:]
}
