// Package auth derives the tri-state authentication status the API gates on.
package auth

import (
	"context"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"atpark/internal/domain"
)

type Status string

const (
	StatusPending         Status = "pending"
	StatusAuthenticated   Status = "authenticated"
	StatusUnauthenticated Status = "unauthenticated"
)

// Session is the part of the repository client the controller drives.
type Session interface {
	Login(ctx context.Context, identifier, password string) (domain.User, error)
	Logout(ctx context.Context)
	IsAuthenticated() bool
	DID() (string, bool)
	GetProfile(ctx context.Context, did string) (domain.User, error)
	RefreshProfile(ctx context.Context, did string) (domain.User, error)
}

// View is a consistent read of the controller. User is nil unless Status
// is StatusAuthenticated.
type View struct {
	Status Status
	User   *domain.User
	Error  string
}

type Controller struct {
	session Session
	logger  *logrus.Logger

	mu   sync.RWMutex
	view View
}

func NewController(session Session, logger *logrus.Logger) *Controller {
	if logger == nil {
		logger = logrus.New()
	}
	return &Controller{
		session: session,
		logger:  logger,
		view:    View{Status: StatusPending},
	}
}

func (c *Controller) View() View {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.view.copy()
}

// Authenticated reports the gate decision. It also re-checks the session so
// an expired session closes the gate without waiting for a new Start.
func (c *Controller) Authenticated() bool {
	c.mu.RLock()
	status := c.view.Status
	c.mu.RUnlock()
	return status == StatusAuthenticated && c.session.IsAuthenticated()
}

// Start resolves Pending from whatever session the client already holds.
// A session whose profile cannot be fetched is treated as unusable.
func (c *Controller) Start(ctx context.Context) View {
	did, ok := c.session.DID()
	if !ok {
		return c.set(View{Status: StatusUnauthenticated})
	}
	logger := c.logger.WithField("did", did)
	user, err := c.session.GetProfile(ctx, did)
	if err != nil {
		logger.Warnf("stored session unusable: %v", err)
		return c.set(View{Status: StatusUnauthenticated})
	}
	logger.Info("resumed session")
	return c.set(View{Status: StatusAuthenticated, User: &user})
}

// Login authenticates and then enriches the user with its profile. A failed
// enrichment keeps the minimal user from login.
func (c *Controller) Login(ctx context.Context, identifier, password string) (View, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		err := domain.NewValidationError("Identifier and password are required")
		return c.View(), err
	}

	user, err := c.session.Login(ctx, identifier, password)
	if err != nil {
		return c.set(View{Status: StatusUnauthenticated, Error: err.Error()}), err
	}
	c.set(View{Status: StatusAuthenticated, User: &user})

	profile, err := c.session.GetProfile(ctx, user.DID)
	if err != nil {
		c.logger.WithField("did", user.DID).Warnf("profile enrichment failed, keeping login user: %v", err)
		return c.View(), nil
	}
	return c.setUser(user.DID, profile), nil
}

// Logout always ends in StatusUnauthenticated.
func (c *Controller) Logout(ctx context.Context) View {
	c.session.Logout(ctx)
	return c.set(View{Status: StatusUnauthenticated})
}

// RefreshProfile re-reads the profile of the signed-in user, bypassing any
// cache. Failures leave the current view alone.
func (c *Controller) RefreshProfile(ctx context.Context) (View, error) {
	current := c.View()
	if current.Status != StatusAuthenticated || current.User == nil {
		return current, domain.ErrNotAuthenticated
	}
	profile, err := c.session.RefreshProfile(ctx, current.User.DID)
	if err != nil {
		c.logger.WithField("did", current.User.DID).Warnf("profile refresh failed: %v", err)
		return current, err
	}
	return c.setUser(current.User.DID, profile), nil
}

func (c *Controller) set(v View) View {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.view = v
	return c.view.copy()
}

// setUser replaces the user only if did is still the signed-in account.
func (c *Controller) setUser(did string, user domain.User) View {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.view.Status == StatusAuthenticated && c.view.User != nil && c.view.User.DID == did {
		c.view.User = &user
	}
	return c.view.copy()
}

func (v View) copy() View {
	if v.User != nil {
		u := *v.User
		v.User = &u
	}
	return v
}
