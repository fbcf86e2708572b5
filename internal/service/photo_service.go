package service

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"

	"atpark/internal/domain"
	"atpark/internal/feed"
	"atpark/internal/publisher"
)

// PhotoFeed is the part of the feed controller the service writes through.
type PhotoFeed interface {
	Snapshot() feed.Snapshot
	CreatePhoto(ctx context.Context, in domain.PhotoInput) (domain.PhotoRecord, error)
}

// Sharer creates shares of photos with other accounts.
type Sharer interface {
	CreateShare(ctx context.Context, share domain.Share) (domain.Share, error)
}

type PublishInput struct {
	File        publisher.File
	Tags        []string
	Location    string
	Visibility  string
	Description string
	Progress    publisher.ProgressFunc
}

// PhotoService runs the publishing workflows on top of the feed.
type PhotoService interface {
	Publish(ctx context.Context, in PublishInput) (domain.PhotoRecord, error)
	// Retag publishes a copy of the photo at uri with new tags. The original
	// record is left in place; the repository has no update operation.
	Retag(ctx context.Context, uri string, tags []string) (domain.PhotoRecord, error)
	Share(ctx context.Context, share domain.Share) (domain.Share, error)
}

type photoService struct {
	publisher publisher.Publisher
	feed      PhotoFeed
	sharer    Sharer
	logger    *logrus.Logger
}

func NewPhotoService(pub publisher.Publisher, photos PhotoFeed, sharer Sharer, logger *logrus.Logger) PhotoService {
	if logger == nil {
		logger = logrus.New()
	}
	return &photoService{
		publisher: pub,
		feed:      photos,
		sharer:    sharer,
		logger:    logger,
	}
}

func (s *photoService) Publish(ctx context.Context, in PublishInput) (domain.PhotoRecord, error) {
	visibility, err := domain.ParseVisibility(in.Visibility)
	if err != nil {
		return domain.PhotoRecord{}, err
	}

	image, err := s.publisher.Upload(ctx, in.File, in.Progress)
	if err != nil {
		return domain.PhotoRecord{}, err
	}
	logger := s.logger.WithFields(logrus.Fields{"file": in.File.Name, "key": image.Key})

	thumbnail := image.URL
	if thumb, err := s.publisher.GenerateThumbnail(ctx, in.File, nil); err != nil {
		logger.Warnf("thumbnail failed, using the image instead: %v", err)
	} else {
		thumbnail = thumb.URL
	}

	input := domain.PhotoInput{
		Image:       image.URL,
		Thumbnail:   thumbnail,
		Tags:        domain.NormalizeTags(in.Tags),
		Location:    strings.TrimSpace(in.Location),
		Visibility:  visibility,
		Description: strings.TrimSpace(in.Description),
	}

	rec, err := s.feed.CreatePhoto(ctx, input)
	if err != nil {
		logger.Warnf("photo record not created: %v", err)
		return domain.PhotoRecord{}, err
	}
	logger.WithField("uri", rec.URI).Info("photo published")
	return rec, nil
}

func (s *photoService) Retag(ctx context.Context, uri string, tags []string) (domain.PhotoRecord, error) {
	original, err := s.find(uri)
	if err != nil {
		return domain.PhotoRecord{}, err
	}

	input := original.Input()
	input.Tags = domain.NormalizeTags(tags)
	rec, err := s.feed.CreatePhoto(ctx, input)
	if err != nil {
		return domain.PhotoRecord{}, err
	}
	s.logger.WithFields(logrus.Fields{"from": uri, "uri": rec.URI}).Info("photo retagged as a new record")
	return rec, nil
}

func (s *photoService) Share(ctx context.Context, share domain.Share) (domain.Share, error) {
	if s.sharer == nil {
		return domain.Share{}, domain.NewNotImplementedError("Sharing")
	}
	return s.sharer.CreateShare(ctx, share)
}

var errPhotoNotFound = errors.New("photo not found")

func (s *photoService) find(uri string) (domain.PhotoRecord, error) {
	if strings.TrimSpace(uri) == "" {
		return domain.PhotoRecord{}, domain.NewValidationError("Photo URI is required")
	}
	for _, rec := range s.feed.Snapshot().Records {
		if rec.URI != uri {
			continue
		}
		if feed.IsSynthetic(rec) {
			return domain.PhotoRecord{}, domain.NewValidationError("Sample photos cannot be edited")
		}
		return rec, nil
	}
	return domain.PhotoRecord{}, &domain.Error{
		Kind:    domain.KindValidation,
		Message: "Photo not found in the feed. Refresh and try again.",
		Err:     errPhotoNotFound,
	}
}
