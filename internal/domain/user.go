package domain

import "time"

// User is the profile projection of an account. DisplayName and Avatar are
// nil when the profile does not carry them.
type User struct {
	DID         string
	Handle      string
	DisplayName *string
	Avatar      *string
}

// Session is the authenticated state held by the network client. Tokens
// never leave the atproto package except through the session store.
type Session struct {
	DID        string
	Handle     string
	Service    string
	AccessJWT  string
	RefreshJWT string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// MinimalUser is what a fresh login knows about the account.
func (s Session) MinimalUser() User {
	return User{DID: s.DID, Handle: s.Handle}
}
