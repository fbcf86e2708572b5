package feed

import (
	"fmt"
	"time"

	"atpark/internal/domain"
)

// syntheticDID owns every placeholder record so they can be told apart
// from real ones.
const syntheticDID = "did:plc:synthetic"

// IsSynthetic reports whether rec is a placeholder served by a degraded feed.
func IsSynthetic(rec domain.PhotoRecord) bool {
	return rec.AuthorDID == syntheticDID
}

func syntheticBatch(collection string, n int, now time.Time) []domain.PhotoRecord {
	out := make([]domain.PhotoRecord, 0, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("synthetic-%d", i+1)
		out = append(out, domain.PhotoRecord{
			URI:         fmt.Sprintf("at://%s/%s/%s", syntheticDID, collection, id),
			AuthorDID:   syntheticDID,
			Image:       fmt.Sprintf("https://picsum.photos/seed/%s/800/600", id),
			Tags:        []string{"dog", "park", fmt.Sprintf("tag%d", i+1)},
			Location:    "Central Park",
			Visibility:  domain.VisibilityPublic,
			Description: fmt.Sprintf("Sample photo #%d", i+1),
			CreatedAt:   now.Add(-time.Duration(i) * 24 * time.Hour).UTC().Format(time.RFC3339),
		})
	}
	return out
}
