package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
)

type contextKey string

const identityKey contextKey = "identity"

// Roles understood by the booking API.
const (
	RolePatient  = "patient"
	RoleProvider = "provider"
	RoleAdmin    = "admin"
)

// ErrUnauthorized means the credential was missing, malformed or rejected.
var ErrUnauthorized = errors.New("unauthorized")

// Identity is the verified caller.
type Identity struct {
	UserID string
	Role   string
}

// IdentityVerifier turns a bearer token into an Identity. An empty token
// means the request carried no credential.
type IdentityVerifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// DevVerifier accepts every request for local development. Requests with no
// token act as Default; a token of the form "<role>:<user-id>" impersonates
// that caller.
type DevVerifier struct {
	Default Identity
}

// NewDevVerifier returns a DevVerifier whose anonymous caller is an admin.
func NewDevVerifier() DevVerifier {
	return DevVerifier{Default: Identity{UserID: uuid.Nil.String(), Role: RoleAdmin}}
}

func (d DevVerifier) Verify(_ context.Context, token string) (Identity, error) {
	if token == "" {
		return d.Default, nil
	}
	role, user, ok := strings.Cut(token, ":")
	if !ok || role == "" {
		return Identity{}, ErrUnauthorized
	}
	if _, err := uuid.Parse(user); err != nil {
		return Identity{}, ErrUnauthorized
	}
	return Identity{UserID: user, Role: role}, nil
}
