package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"atpark/internal/domain"
	"atpark/internal/feed"
	"atpark/internal/publisher"
)

type fakePublisher struct {
	uploads  int
	thumbs   int
	err      error
	thumbErr error
}

func (f *fakePublisher) Upload(_ context.Context, file publisher.File, progress publisher.ProgressFunc) (publisher.Result, error) {
	f.uploads++
	if f.err != nil {
		return publisher.Result{}, f.err
	}
	if progress != nil {
		progress(0)
		progress(100)
	}
	key := fmt.Sprintf("1700000000000-abc%d-%s", f.uploads, file.Name)
	return publisher.Result{URL: "https://cdn.example/" + key, Key: key}, nil
}

func (f *fakePublisher) GenerateThumbnail(_ context.Context, file publisher.File, _ publisher.ProgressFunc) (publisher.Result, error) {
	f.thumbs++
	if f.thumbErr != nil {
		return publisher.Result{}, f.thumbErr
	}
	return publisher.Result{URL: "https://cdn.example/thumb-" + file.Name, Key: "thumb-" + file.Name}, nil
}

type memorySource struct {
	mu      sync.Mutex
	records []domain.PhotoRecord
	inputs  []domain.PhotoInput
	err     error
}

func (m *memorySource) ListPhotos(_ context.Context, limit int, _ string) (domain.PhotoPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.records) < limit {
		limit = len(m.records)
	}
	page := domain.PhotoPage{Records: append([]domain.PhotoRecord(nil), m.records[:limit]...), Fetched: limit}
	if limit > 0 {
		page.Cursor = path.Base(m.records[limit-1].URI)
	}
	return page, nil
}

func (m *memorySource) CreatePhoto(_ context.Context, in domain.PhotoInput) (domain.PhotoRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return domain.PhotoRecord{}, m.err
	}
	m.inputs = append(m.inputs, in)
	rec := domain.PhotoRecord{
		URI:         fmt.Sprintf("at://did:plc:abc/app.dogpark.photo/3k%d", len(m.inputs)),
		AuthorDID:   "did:plc:abc",
		Image:       in.Image,
		Thumbnail:   in.Thumbnail,
		Tags:        in.Tags,
		Location:    in.Location,
		Visibility:  in.Visibility,
		Description: in.Description,
		CreatedAt:   in.CreatedAt,
	}
	m.records = append([]domain.PhotoRecord{rec}, m.records...)
	return rec, nil
}

type fakeSharer struct{}

func (fakeSharer) CreateShare(context.Context, domain.Share) (domain.Share, error) {
	return domain.Share{}, domain.NewNotImplementedError("Sharing")
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func newFixture(t *testing.T, src feed.Source) (*fakePublisher, *feed.Controller, PhotoService) {
	t.Helper()
	pub := &fakePublisher{}
	photos, err := feed.New(feed.Config{Source: src, Collection: "app.dogpark.photo", PageSize: 10, Logger: quietLogger()})
	require.NoError(t, err)
	return pub, photos, NewPhotoService(pub, photos, fakeSharer{}, quietLogger())
}

func jpeg(name string) publisher.File {
	data := []byte("jpeg-bytes")
	return publisher.File{
		Name:        name,
		ContentType: "image/jpeg",
		Size:        int64(len(data)),
		Open:        func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(data)), nil },
	}
}

func TestPublish(t *testing.T) {
	src := &memorySource{}
	pub, photos, svc := newFixture(t, src)

	var progress []int
	rec, err := svc.Publish(context.Background(), PublishInput{
		File:        jpeg("dog.jpg"),
		Tags:        []string{" dog ", "park", "dog", ""},
		Location:    " Central Park ",
		Description: "Good boy",
		Progress:    func(p int) { progress = append(progress, p) },
	})
	require.NoError(t, err)
	require.Equal(t, "https://cdn.example/1700000000000-abc1-dog.jpg", rec.Image)
	require.Equal(t, "https://cdn.example/thumb-dog.jpg", rec.Thumbnail)
	require.Equal(t, []string{"dog", "park"}, rec.Tags)
	require.Equal(t, "Central Park", rec.Location)
	require.Equal(t, domain.VisibilityPublic, rec.Visibility)
	require.Equal(t, []int{0, 100}, progress)
	require.Equal(t, 1, pub.uploads)
	require.Equal(t, 1, pub.thumbs)

	require.Equal(t, rec.URI, photos.Snapshot().Records[0].URI)
}

func TestPublishFallsBackToImageForThumbnail(t *testing.T) {
	src := &memorySource{}
	pub, _, svc := newFixture(t, src)
	pub.thumbErr = domain.NewNetworkError(domain.HopUpload, true, "timed out", nil)

	rec, err := svc.Publish(context.Background(), PublishInput{File: jpeg("dog.jpg")})
	require.NoError(t, err)
	require.Equal(t, rec.Image, rec.Thumbnail)
}

func TestPublishStopsOnUploadFailure(t *testing.T) {
	src := &memorySource{}
	pub, photos, svc := newFixture(t, src)
	pub.err = domain.NewProtocolError(domain.HopBroker, "Upload broker error: 500 Internal Server Error", nil)

	_, err := svc.Publish(context.Background(), PublishInput{File: jpeg("dog.jpg")})
	require.Equal(t, "Upload broker error: 500 Internal Server Error", err.Error())
	require.Zero(t, pub.thumbs)
	require.Empty(t, src.inputs)
	require.Empty(t, photos.Snapshot().Records)
}

func TestPublishRejectsUnknownVisibility(t *testing.T) {
	pub, _, svc := newFixture(t, &memorySource{})

	_, err := svc.Publish(context.Background(), PublishInput{File: jpeg("dog.jpg"), Visibility: "friends"})
	require.True(t, domain.IsKind(err, domain.KindValidation))
	require.Zero(t, pub.uploads)
}

func TestPublishRecordFailure(t *testing.T) {
	src := &memorySource{err: domain.ErrNotAuthenticated}
	_, _, svc := newFixture(t, src)

	_, err := svc.Publish(context.Background(), PublishInput{File: jpeg("dog.jpg")})
	require.ErrorIs(t, err, domain.ErrNotAuthenticated)
}

func TestRetagCreatesNewRecord(t *testing.T) {
	src := &memorySource{}
	_, photos, svc := newFixture(t, src)
	original, err := svc.Publish(context.Background(), PublishInput{File: jpeg("dog.jpg"), Tags: []string{"dog"}, Description: "Good boy"})
	require.NoError(t, err)

	retagged, err := svc.Retag(context.Background(), original.URI, []string{"dog", "friend"})
	require.NoError(t, err)
	require.NotEqual(t, original.URI, retagged.URI)
	require.Equal(t, []string{"dog", "friend"}, retagged.Tags)
	require.Equal(t, original.Image, retagged.Image)
	require.Equal(t, original.Description, retagged.Description)
	require.Equal(t, original.CreatedAt, retagged.CreatedAt)

	// both records stay in the feed, newest first
	snap := photos.Snapshot()
	require.Equal(t, []string{retagged.URI, original.URI}, []string{snap.Records[0].URI, snap.Records[1].URI})
	require.Len(t, src.inputs, 2)
}

func TestRetagUnknownPhoto(t *testing.T) {
	_, _, svc := newFixture(t, &memorySource{})

	_, err := svc.Retag(context.Background(), "at://did:plc:abc/app.dogpark.photo/missing", []string{"x"})
	require.True(t, domain.IsKind(err, domain.KindValidation))
	require.ErrorIs(t, err, errPhotoNotFound)

	_, err = svc.Retag(context.Background(), "", nil)
	require.True(t, domain.IsKind(err, domain.KindValidation))
}

type failingSource struct{ memorySource }

func (f *failingSource) ListPhotos(context.Context, int, string) (domain.PhotoPage, error) {
	return domain.PhotoPage{}, errors.New("offline")
}

func TestRetagRefusesSyntheticPhotos(t *testing.T) {
	src := &failingSource{}
	_, photos, svc := newFixture(t, src)
	snap, err := photos.Refresh(context.Background())
	require.NoError(t, err)
	require.True(t, snap.Degraded)

	_, err = svc.Retag(context.Background(), snap.Records[0].URI, []string{"dog"})
	require.True(t, domain.IsKind(err, domain.KindValidation))
	require.Empty(t, src.inputs)
}

func TestShareNotImplemented(t *testing.T) {
	_, _, svc := newFixture(t, &memorySource{})
	_, err := svc.Share(context.Background(), domain.Share{PhotoURI: "at://did:plc:abc/app.dogpark.photo/3k1"})
	require.True(t, domain.IsKind(err, domain.KindNotImplemented))

	bare := NewPhotoService(&fakePublisher{}, nil, nil, quietLogger())
	_, err = bare.Share(context.Background(), domain.Share{})
	require.True(t, domain.IsKind(err, domain.KindNotImplemented))
}
