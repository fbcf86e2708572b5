package atproto

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"atpark/internal/domain"
)

// Agent is the network client library the repository client drives. It owns
// the session and its credentials.
//
// Logout must clear the local session even when the remote revoke fails.
type Agent interface {
	Login(ctx context.Context, identifier, password string) error
	Logout(ctx context.Context) error
	Session() (domain.Session, bool)
	GetProfile(ctx context.Context, actor string) (ProfileView, error)
	CreateRecord(ctx context.Context, in CreateRecordInput) (CreateRecordOutput, error)
	ListRecords(ctx context.Context, in ListRecordsInput) (ListRecordsOutput, error)
}

type ProfileView struct {
	DID         string  `json:"did"`
	Handle      string  `json:"handle"`
	DisplayName *string `json:"displayName,omitempty"`
	Avatar      *string `json:"avatar,omitempty"`
}

type CreateRecordInput struct {
	Repo       string `json:"repo"`
	Collection string `json:"collection"`
	Record     any    `json:"record"`
}

type CreateRecordOutput struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

// ListRecordsInput leaves Cursor nil for the first page; a nil cursor is
// never sent to the remote.
type ListRecordsInput struct {
	Repo       string
	Collection string
	Limit      int
	Cursor     *string
}

type RecordView struct {
	URI   string          `json:"uri"`
	CID   string          `json:"cid"`
	Value json.RawMessage `json:"value"`
}

type ListRecordsOutput struct {
	Records []RecordView `json:"records"`
	Cursor  *string      `json:"cursor,omitempty"`
}

// ErrMalformedResponse marks a remote answer that could not be decoded.
var ErrMalformedResponse = errors.New("malformed response")

// XRPCError is an error body returned by the remote service.
type XRPCError struct {
	Status  int
	Name    string `json:"error"`
	Message string `json:"message"`
}

func (e *XRPCError) Error() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Name != "":
		return e.Name
	}
	return fmt.Sprintf("remote returned status %d", e.Status)
}

func (e *XRPCError) isAuth() bool {
	switch e.Name {
	case "AuthenticationRequired", "ExpiredToken", "InvalidToken", "AuthMissing", "AccountTakedown":
		return true
	}
	return e.Status == 401
}

func (e *XRPCError) isExpiredToken() bool {
	return e.Name == "ExpiredToken"
}
