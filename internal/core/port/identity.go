package port

import "github.com/serenechat/serene/internal/core/domain"

// IdentityVerifier resolves a bearer token to a verified user id. The
// signaling core never authenticates on its own; it only consumes identities
// this collaborator vouches for.
type IdentityVerifier interface {
	Verify(token string) (domain.UserID, error)
}
