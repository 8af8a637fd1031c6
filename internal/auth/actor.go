package auth

// Role is the caller's platform role as asserted by the identity service
type Role string

const (
	RoleBuyer    Role = "buyer"
	RoleSeller   Role = "seller"
	RoleAdmin    Role = "admin"
	RoleInvestor Role = "investor"
	RoleSponsor  Role = "sponsor"
	RoleSystem   Role = "system"
)

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	switch r {
	case RoleBuyer, RoleSeller, RoleAdmin, RoleInvestor, RoleSponsor, RoleSystem:
		return true
	}
	return false
}

// Actor is the authenticated caller of an operation
type Actor struct {
	UserID      string `json:"userId"`
	Role        Role   `json:"role"`
	KYCVerified bool   `json:"kycVerified"`
}

// System is the actor used by background jobs and gateway callbacks
var System = Actor{UserID: "system", Role: RoleSystem, KYCVerified: true}

// Is reports whether the actor holds any of roles
func (a Actor) Is(roles ...Role) bool {
	for _, r := range roles {
		if a.Role == r {
			return true
		}
	}
	return false
}

// IsPrivileged is true for admins and the system actor
func (a Actor) IsPrivileged() bool {
	return a.Is(RoleAdmin, RoleSystem)
}
