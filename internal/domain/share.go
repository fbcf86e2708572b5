package domain

// Share grants other accounts access to a photo. Creating one is not
// implemented by the repository client.
type Share struct {
	URI        string
	PhotoURI   string
	SharedWith []string
	ExpiresAt  string
	CreatedAt  string
}
