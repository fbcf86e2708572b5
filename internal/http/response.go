package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"atpark/internal/auth"
	"atpark/internal/domain"
	"atpark/internal/feed"
)

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func ok(c *gin.Context, status int, data any) {
	c.JSON(status, envelope{Success: true, Data: data})
}

func fail(c *gin.Context, err error) {
	c.JSON(statusFor(err), envelope{Success: false, Error: err.Error()})
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	var de *domain.Error
	if !errors.As(err, &de) {
		return http.StatusInternalServerError
	}
	switch de.Kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindAuth:
		return http.StatusUnauthorized
	case domain.KindNetwork:
		if de.Timeout {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	case domain.KindProtocol:
		return http.StatusBadGateway
	case domain.KindNotImplemented:
		return http.StatusNotImplemented
	}
	return http.StatusInternalServerError
}

type UserResponse struct {
	DID         string  `json:"did"`
	Handle      string  `json:"handle"`
	DisplayName *string `json:"displayName,omitempty"`
	Avatar      *string `json:"avatar,omitempty"`
}

type AuthResponse struct {
	Status auth.Status   `json:"status"`
	User   *UserResponse `json:"user,omitempty"`
	Error  string        `json:"error,omitempty"`
}

type PhotoResponse struct {
	URI         string   `json:"uri"`
	AuthorDID   string   `json:"authorDid"`
	Image       string   `json:"image"`
	Thumbnail   string   `json:"thumbnail,omitempty"`
	Tags        []string `json:"tags"`
	Location    string   `json:"location,omitempty"`
	Visibility  string   `json:"visibility"`
	Description string   `json:"description,omitempty"`
	CreatedAt   string   `json:"createdAt"`
}

type FeedResponse struct {
	Photos   []PhotoResponse `json:"photos"`
	Cursor   string          `json:"cursor,omitempty"`
	HasMore  bool            `json:"hasMore"`
	State    feed.State      `json:"state"`
	Degraded bool            `json:"degraded"`
	Error    string          `json:"error,omitempty"`
	Fetched  *bool           `json:"fetched,omitempty"`
}

func authToResponse(v auth.View) AuthResponse {
	resp := AuthResponse{Status: v.Status, Error: v.Error}
	if v.User != nil {
		resp.User = &UserResponse{
			DID:         v.User.DID,
			Handle:      v.User.Handle,
			DisplayName: v.User.DisplayName,
			Avatar:      v.User.Avatar,
		}
	}
	return resp
}

func photoToResponse(p domain.PhotoRecord) PhotoResponse {
	tags := p.Tags
	if tags == nil {
		tags = []string{}
	}
	return PhotoResponse{
		URI:         p.URI,
		AuthorDID:   p.AuthorDID,
		Image:       p.Image,
		Thumbnail:   p.Thumbnail,
		Tags:        tags,
		Location:    p.Location,
		Visibility:  string(p.Visibility),
		Description: p.Description,
		CreatedAt:   p.CreatedAt,
	}
}

func feedToResponse(s feed.Snapshot) FeedResponse {
	resp := FeedResponse{
		Photos:   make([]PhotoResponse, len(s.Records)),
		Cursor:   s.Cursor,
		HasMore:  s.HasMore,
		State:    s.State,
		Degraded: s.Degraded,
		Error:    s.LastError,
	}
	for i := range s.Records {
		resp.Photos[i] = photoToResponse(s.Records[i])
	}
	return resp
}
