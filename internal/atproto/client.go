// Package atproto is the session and repository client: it owns the
// authentication lifecycle and photo record CRUD against the current
// account's repository.
package atproto

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/bluesky-social/indigo/atproto/syntax"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"atpark/internal/domain"
)

const maxListLimit = 100

type ClientConfig struct {
	Agent Agent
	// Namespace selects the collection app.<namespace>.photo.
	Namespace        string
	ProfileCacheSize int
	Logger           *logrus.Logger
	Now              func() time.Time
}

// Client wraps an Agent with photo semantics. The collection is fixed at
// construction and cannot vary per call.
type Client struct {
	agent      Agent
	collection syntax.NSID
	profiles   *lru.Cache[string, domain.User]
	logger     *logrus.Logger
	now        func() time.Time
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Agent == nil {
		return nil, fmt.Errorf("agent is required")
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "dogpark"
	}
	collection, err := syntax.ParseNSID("app." + cfg.Namespace + ".photo")
	if err != nil {
		return nil, fmt.Errorf("invalid photo collection: %w", err)
	}
	if cfg.ProfileCacheSize <= 0 {
		cfg.ProfileCacheSize = 128
	}
	profiles, err := lru.New[string, domain.User](cfg.ProfileCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create profile cache: %w", err)
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Client{
		agent:      cfg.Agent,
		collection: collection,
		profiles:   profiles,
		logger:     cfg.Logger,
		now:        cfg.Now,
	}, nil
}

// Collection is the NSID every photo record is written under.
func (c *Client) Collection() string {
	return c.collection.String()
}

// Login establishes a session. A transport-level success that leaves no
// session behind is still a failure.
func (c *Client) Login(ctx context.Context, identifier, password string) (domain.User, error) {
	logger := c.logger.WithField("identifier", identifier)
	prev, hadPrev := c.agent.Session()
	if err := c.agent.Login(ctx, identifier, password); err != nil {
		logger.Warnf("login failed: %v", err)
		return domain.User{}, loginError(err)
	}
	s, ok := c.agent.Session()
	// A session left over from before the call does not count.
	if !ok || s.DID == "" || (hadPrev && s == prev) {
		logger.Warn("login returned without a session")
		return domain.User{}, domain.NewAuthError("Failed to establish session", nil)
	}
	logger.WithField("did", s.DID).Info("logged in")
	return s.MinimalUser(), nil
}

// Logout always drops the local session; a failed remote revoke is only logged.
func (c *Client) Logout(ctx context.Context) {
	s, _ := c.agent.Session()
	if err := c.agent.Logout(ctx); err != nil {
		c.logger.WithField("did", s.DID).Warnf("remote logout failed, local session cleared anyway: %v", err)
	}
	c.profiles.Purge()
}

// IsAuthenticated never touches the network.
func (c *Client) IsAuthenticated() bool {
	_, ok := c.agent.Session()
	return ok
}

// DID returns the identity of the live session.
func (c *Client) DID() (string, bool) {
	s, ok := c.agent.Session()
	if !ok || s.DID == "" {
		return "", false
	}
	return s.DID, true
}

func (c *Client) GetProfile(ctx context.Context, did string) (domain.User, error) {
	if !c.IsAuthenticated() {
		return domain.User{}, domain.ErrNotAuthenticated
	}
	if user, ok := c.profiles.Get(did); ok {
		return user, nil
	}
	return c.fetchProfile(ctx, did)
}

// RefreshProfile bypasses the profile cache.
func (c *Client) RefreshProfile(ctx context.Context, did string) (domain.User, error) {
	if !c.IsAuthenticated() {
		return domain.User{}, domain.ErrNotAuthenticated
	}
	return c.fetchProfile(ctx, did)
}

func (c *Client) fetchProfile(ctx context.Context, did string) (domain.User, error) {
	view, err := c.agent.GetProfile(ctx, did)
	if err != nil {
		return domain.User{}, repositoryError("fetch profile", err)
	}
	if view.DID == "" {
		return domain.User{}, domain.NewProtocolError(domain.HopRepository, "Failed to fetch profile", nil)
	}
	user := domain.User{
		DID:         view.DID,
		Handle:      view.Handle,
		DisplayName: nonEmpty(view.DisplayName),
		Avatar:      nonEmpty(view.Avatar),
	}
	c.profiles.Add(did, user)
	return user, nil
}

// CreatePhoto appends a new record. There is no update path: changing a
// photo means creating another record.
func (c *Client) CreatePhoto(ctx context.Context, in domain.PhotoInput) (domain.PhotoRecord, error) {
	did, ok := c.DID()
	if !ok {
		return domain.PhotoRecord{}, domain.ErrNotAuthenticated
	}
	if err := validateImageURL("Image", in.Image); err != nil {
		return domain.PhotoRecord{}, err
	}
	if in.Thumbnail != "" {
		if err := validateImageURL("Thumbnail", in.Thumbnail); err != nil {
			return domain.PhotoRecord{}, err
		}
	}
	visibility := in.Visibility
	if visibility == "" {
		visibility = domain.VisibilityPublic
	}
	if !visibility.Valid() {
		return domain.PhotoRecord{}, domain.NewValidationError("visibility must be public, private or shared")
	}
	if in.CreatedAt == "" {
		in.CreatedAt = c.now().UTC().Format(time.RFC3339Nano)
	}
	tags := in.Tags
	if tags == nil {
		tags = []string{}
	}

	out, err := c.agent.CreateRecord(ctx, CreateRecordInput{
		Repo:       did,
		Collection: c.collection.String(),
		Record: photoRecord{
			Type:        c.collection.String(),
			Image:       in.Image,
			Thumbnail:   in.Thumbnail,
			Tags:        tags,
			Location:    in.Location,
			Visibility:  string(visibility),
			Description: in.Description,
			CreatedAt:   in.CreatedAt,
		},
	})
	if err != nil {
		return domain.PhotoRecord{}, repositoryError("create photo", err)
	}

	author, err := AuthorOf(out.URI)
	if err != nil {
		return domain.PhotoRecord{}, domain.NewProtocolError(domain.HopRepository, "Repository returned an invalid record URI", err)
	}

	c.logger.WithFields(logrus.Fields{"did": did, "uri": out.URI}).Info("photo record created")
	return domain.PhotoRecord{
		URI:         out.URI,
		AuthorDID:   author,
		Image:       in.Image,
		Thumbnail:   in.Thumbnail,
		Tags:        tags,
		Location:    in.Location,
		Visibility:  visibility,
		Description: in.Description,
		CreatedAt:   in.CreatedAt,
	}, nil
}

// ListPhotos lists up to limit records after cursor. An empty cursor means
// the first page. Records that cannot be decoded are left out of Records
// but still counted in Fetched and Cursor.
func (c *Client) ListPhotos(ctx context.Context, limit int, cursor string) (domain.PhotoPage, error) {
	did, ok := c.DID()
	if !ok {
		return domain.PhotoPage{}, domain.ErrNotAuthenticated
	}
	if limit <= 0 || limit > maxListLimit {
		return domain.PhotoPage{}, domain.NewValidationError(fmt.Sprintf("limit must be between 1 and %d", maxListLimit))
	}

	in := ListRecordsInput{Repo: did, Collection: c.collection.String(), Limit: limit}
	if cursor != "" {
		in.Cursor = &cursor
	}
	out, err := c.agent.ListRecords(ctx, in)
	if err != nil {
		return domain.PhotoPage{}, repositoryError("list photos", err)
	}

	logger := c.logger.WithFields(logrus.Fields{"did": did, "cursor": cursor})
	page := domain.PhotoPage{
		Records: make([]domain.PhotoRecord, 0, len(out.Records)),
		Fetched: len(out.Records),
	}
	for _, rec := range out.Records {
		photo, err := decodePhoto(rec)
		if err != nil {
			logger.WithField("uri", rec.URI).Warnf("skipping unreadable record: %v", err)
			continue
		}
		page.Records = append(page.Records, photo)
	}
	if n := len(out.Records); n > 0 {
		page.Cursor = RecordKeyOf(out.Records[n-1].URI)
	}
	logger.Debugf("listed %d of %d photos", len(page.Records), page.Fetched)
	return page, nil
}

// CreateShare is reserved for sharing photos with other accounts.
func (c *Client) CreateShare(ctx context.Context, share domain.Share) (domain.Share, error) {
	if !c.IsAuthenticated() {
		return domain.Share{}, domain.ErrNotAuthenticated
	}
	return domain.Share{}, domain.NewNotImplementedError("Sharing")
}

func loginError(err error) error {
	var xerr *XRPCError
	if errors.As(err, &xerr) && xerr.Status < http.StatusInternalServerError {
		return domain.NewAuthError(xerr.Error(), err)
	}
	return repositoryError("login", err)
}

// repositoryError maps agent failures onto the error taxonomy.
func repositoryError(op string, err error) error {
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	var xerr *XRPCError
	if errors.As(err, &xerr) {
		switch {
		case xerr.isAuth():
			return domain.NewAuthError(xerr.Error(), err)
		case xerr.Status >= http.StatusInternalServerError:
			return domain.NewNetworkError(domain.HopRepository, false, fmt.Sprintf("The network service failed to %s: %s", op, xerr.Error()), err)
		default:
			return domain.NewProtocolError(domain.HopRepository, xerr.Error(), err)
		}
	}
	if errors.Is(err, ErrMalformedResponse) {
		return domain.NewProtocolError(domain.HopRepository, fmt.Sprintf("Unexpected response while trying to %s", op), err)
	}
	if errors.Is(err, context.Canceled) {
		return domain.NewNetworkError(domain.HopRepository, false, "Request cancelled", err)
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return domain.NewNetworkError(domain.HopRepository, true, fmt.Sprintf("Timed out trying to %s. The network service may be unavailable.", op), err)
	}
	return domain.NewNetworkError(domain.HopRepository, false, fmt.Sprintf("Network error: failed to %s.", op), err)
}

func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	v := *s
	return &v
}
