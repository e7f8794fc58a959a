package port

import "github.com/serenechat/serene/internal/core/domain"

// PresenceRegistry maps a user identity to its single live connection handle.
// Registering a user that already has an entry replaces it (last write wins);
// the replaced handle stays connected but becomes undeliverable.
type PresenceRegistry interface {
	// Register stores the entry for userID, returning the handle it
	// replaced, if any.
	Register(userID domain.UserID, handle domain.ConnectionID) (replaced domain.ConnectionID, hadOld bool)

	// Lookup is a pure read.
	Lookup(userID domain.UserID) (domain.ConnectionID, bool)

	// Unregister removes the entry whose stored handle equals handle. A
	// handle that was already replaced removes nothing.
	Unregister(handle domain.ConnectionID) (domain.UserID, bool)

	// Online returns the ids of all currently registered users.
	Online() []domain.UserID
}
