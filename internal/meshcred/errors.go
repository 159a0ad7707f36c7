package meshcred

import "github.com/atmosphere-mesh/corenode/internal/atmoerr"

// ErrBadFormat and ErrExpired are the two failure classes apply_invite
// must distinguish (spec: "ok | Expired | BadFormat"). They alias the
// shared sentinel taxonomy so callers across packages can use a single
// errors.Is check.
var (
	ErrBadFormat = atmoerr.ErrBadInvite
	ErrExpired   = atmoerr.ErrInviteExpired
)
