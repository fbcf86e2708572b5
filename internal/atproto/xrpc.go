package atproto

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"atpark/internal/domain"
	"atpark/internal/repository"
)

const (
	maxXRPCResponse = 4 << 20
	// refreshSkew refreshes access tokens shortly before they expire.
	refreshSkew = 30 * time.Second
)

type XRPCConfig struct {
	Service    string
	Timeout    time.Duration
	HTTPClient *http.Client
	// Store is optional; without it sessions live only in memory.
	Store  repository.SessionRepository
	Logger *logrus.Logger
	Now    func() time.Time
}

// XRPCAgent speaks the com.atproto XRPC endpoints over HTTP.
type XRPCAgent struct {
	cfg XRPCConfig

	mu      sync.RWMutex
	session *domain.Session

	refreshMu sync.Mutex
}

func NewXRPCAgent(cfg XRPCConfig) *XRPCAgent {
	cfg.Service = strings.TrimRight(cfg.Service, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &XRPCAgent{cfg: cfg}
}

type sessionResponse struct {
	DID        string `json:"did"`
	Handle     string `json:"handle"`
	AccessJWT  string `json:"accessJwt"`
	RefreshJWT string `json:"refreshJwt"`
}

// Resume restores a stored session without touching the network.
func (a *XRPCAgent) Resume(ctx context.Context) (bool, error) {
	if a.cfg.Store == nil {
		return false, nil
	}
	s, err := a.cfg.Store.Load(ctx, a.cfg.Service)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("load session: %w", err)
	}
	if exp, ok := tokenExpiry(s.RefreshJWT); ok && a.cfg.Now().After(exp) {
		a.cfg.Logger.WithField("did", s.DID).Info("stored session expired, discarding")
		a.clearSession(ctx)
		return false, nil
	}
	a.mu.Lock()
	a.session = s
	a.mu.Unlock()
	return true, nil
}

// Login replaces any current session. The old one is dropped before the
// request, so a rejected or incomplete login leaves no session at all.
func (a *XRPCAgent) Login(ctx context.Context, identifier, password string) error {
	if _, ok := a.Session(); ok {
		a.clearSession(ctx)
	}

	var out sessionResponse
	err := a.call(ctx, http.MethodPost, "com.atproto.server.createSession", nil,
		map[string]string{"identifier": identifier, "password": password}, "", &out)
	if err != nil {
		return err
	}
	if out.DID == "" || out.AccessJWT == "" {
		return nil
	}
	a.setSession(ctx, &domain.Session{
		DID:        out.DID,
		Handle:     out.Handle,
		Service:    a.cfg.Service,
		AccessJWT:  out.AccessJWT,
		RefreshJWT: out.RefreshJWT,
	})
	return nil
}

func (a *XRPCAgent) Logout(ctx context.Context) error {
	s, ok := a.Session()
	if !ok {
		return nil
	}
	err := a.call(ctx, http.MethodPost, "com.atproto.server.deleteSession", nil, nil, s.RefreshJWT, nil)
	a.clearSession(ctx)
	return err
}

func (a *XRPCAgent) Session() (domain.Session, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.session == nil {
		return domain.Session{}, false
	}
	return *a.session, true
}

func (a *XRPCAgent) GetProfile(ctx context.Context, actor string) (ProfileView, error) {
	var out ProfileView
	err := a.authed(ctx, http.MethodGet, "app.bsky.actor.getProfile", url.Values{"actor": {actor}}, nil, &out)
	return out, err
}

func (a *XRPCAgent) CreateRecord(ctx context.Context, in CreateRecordInput) (CreateRecordOutput, error) {
	var out CreateRecordOutput
	err := a.authed(ctx, http.MethodPost, "com.atproto.repo.createRecord", nil, in, &out)
	return out, err
}

func (a *XRPCAgent) ListRecords(ctx context.Context, in ListRecordsInput) (ListRecordsOutput, error) {
	q := url.Values{
		"repo":       {in.Repo},
		"collection": {in.Collection},
		"limit":      {strconv.Itoa(in.Limit)},
	}
	if in.Cursor != nil && *in.Cursor != "" {
		q.Set("cursor", *in.Cursor)
	}
	var out ListRecordsOutput
	err := a.authed(ctx, http.MethodGet, "com.atproto.repo.listRecords", q, nil, &out)
	return out, err
}

// authed runs an authenticated call, refreshing the access token once when
// it has expired.
func (a *XRPCAgent) authed(ctx context.Context, method, nsid string, query url.Values, body, out any) error {
	s, ok := a.Session()
	if !ok {
		return domain.ErrNotAuthenticated
	}
	if exp, ok := tokenExpiry(s.AccessJWT); ok && a.cfg.Now().Add(refreshSkew).After(exp) {
		if err := a.refresh(ctx, s); err != nil {
			return err
		}
		if s, ok = a.Session(); !ok {
			return domain.ErrNotAuthenticated
		}
	}

	err := a.call(ctx, method, nsid, query, body, s.AccessJWT, out)
	var xerr *XRPCError
	if !errors.As(err, &xerr) || !xerr.isExpiredToken() {
		return err
	}

	if err := a.refresh(ctx, s); err != nil {
		return err
	}
	if s, ok = a.Session(); !ok {
		return domain.ErrNotAuthenticated
	}
	return a.call(ctx, method, nsid, query, body, s.AccessJWT, out)
}

// refresh swaps the tokens of stale. A rejected refresh token ends the session.
func (a *XRPCAgent) refresh(ctx context.Context, stale domain.Session) error {
	a.refreshMu.Lock()
	defer a.refreshMu.Unlock()

	current, ok := a.Session()
	if !ok {
		return domain.ErrNotAuthenticated
	}
	if current.AccessJWT != stale.AccessJWT {
		return nil
	}

	logger := a.cfg.Logger.WithField("did", current.DID)
	var out sessionResponse
	err := a.call(ctx, http.MethodPost, "com.atproto.server.refreshSession", nil, nil, current.RefreshJWT, &out)
	if err != nil {
		var xerr *XRPCError
		if errors.As(err, &xerr) && (xerr.isAuth() || xerr.Status == http.StatusBadRequest) {
			logger.Warnf("session refresh rejected, signing out: %v", err)
			a.clearSession(ctx)
			return domain.NewAuthError("Session expired, please log in again", err)
		}
		return err
	}

	next := current
	next.AccessJWT = out.AccessJWT
	next.RefreshJWT = out.RefreshJWT
	if out.Handle != "" {
		next.Handle = out.Handle
	}
	a.setSession(ctx, &next)
	logger.Debug("session refreshed")
	return nil
}

func (a *XRPCAgent) call(ctx context.Context, method, nsid string, query url.Values, body any, token string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	endpoint := a.cfg.Service + "/xrpc/" + nsid
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s: %w", nsid, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", nsid, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := a.cfg.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", nsid, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxXRPCResponse))
	if err != nil {
		return fmt.Errorf("read %s response: %w", nsid, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		xerr := &XRPCError{}
		_ = json.Unmarshal(data, xerr)
		xerr.Status = resp.StatusCode
		return xerr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedResponse, nsid, err)
	}
	return nil
}

func (a *XRPCAgent) setSession(ctx context.Context, s *domain.Session) {
	a.mu.Lock()
	a.session = s
	a.mu.Unlock()

	if a.cfg.Store == nil {
		return
	}
	stored := *s
	if err := a.cfg.Store.Save(context.WithoutCancel(ctx), &stored); err != nil {
		a.cfg.Logger.WithField("did", s.DID).Warnf("persist session: %v", err)
	}
}

func (a *XRPCAgent) clearSession(ctx context.Context) {
	a.mu.Lock()
	a.session = nil
	a.mu.Unlock()

	if a.cfg.Store == nil {
		return
	}
	if err := a.cfg.Store.Delete(context.WithoutCancel(ctx), a.cfg.Service); err != nil {
		a.cfg.Logger.Warnf("delete stored session: %v", err)
	}
}

// tokenExpiry reads exp from a JWT without verifying it; the service that
// issued the token is the only party that can verify it.
func tokenExpiry(token string) (time.Time, bool) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

var _ Agent = (*XRPCAgent)(nil)
