package domain

// IdentityKind distinguishes verified users from self-issued guests
type IdentityKind string

const (
	IdentityAuthenticated IdentityKind = "authenticated"
	IdentityGuest         IdentityKind = "guest"
)

// SessionIdentity is the canonical identity a caller resolves to. It is
// created once per browser session and authorizes all downstream calls;
// the credential travels upstream as a bearer token because browsers
// cannot attach Authorization headers to live event streams themselves.
type SessionIdentity struct {
	Kind       IdentityKind `json:"kind"`
	Subject    string       `json:"subject"`
	Credential string       `json:"-"`
}

// IsGuest reports whether the identity came from the guest fallback path
func (i SessionIdentity) IsGuest() bool {
	return i.Kind == IdentityGuest
}
