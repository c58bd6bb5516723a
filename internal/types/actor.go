// README: Caller identity handed to the core by the authentication layer.
package types

import "time"

// Role is the closed set of actor kinds the lifecycle knows about.
type Role string

const (
	RoleDonor    Role = "donor"
	RoleReceiver Role = "receiver"
	RoleDriver   Role = "driver"
	RoleAdmin    Role = "admin"
)

// ParseRole maps a token claim to a Role. Unknown values are rejected.
func ParseRole(s string) (Role, bool) {
	switch r := Role(s); r {
	case RoleDonor, RoleReceiver, RoleDriver, RoleAdmin:
		return r, true
	}
	return "", false
}

// Actor is the already-verified caller of a core operation.
type Actor struct {
	ID   ID
	Role Role
}

func (a Actor) Is(r Role) bool {
	return a.Role == r
}

// Clock abstracts "now" so state transitions can be tested deterministically.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
