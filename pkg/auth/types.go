package auth

import "time"

// User is a registered storefront account.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	Phone        string    `json:"phone,omitempty"`
	PasswordHash string    `json:"-"`
	Roles        []Role    `json:"roles"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// HasRole reports whether the user holds role.
func (u *User) HasRole(role Role) bool {
	if u == nil {
		return false
	}
	return HasRole(u.Roles, role)
}

// Role is a coarse capability granted to a user
type Role string

const (
	RoleUser     Role = "USER"     // Default for every signup
	RoleCustomer Role = "CUSTOMER" // Places orders
	RoleAdmin    Role = "ADMIN"    // Back-office and token maintenance
)

// DefaultRoles are assigned on signup. Client supplied roles are ignored.
var DefaultRoles = []Role{RoleUser}

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleCustomer, RoleAdmin:
		return true
	}
	return false
}

// HasRole reports whether roles contains required. Roles do not imply
// each other, so ADMIN does not satisfy a CUSTOMER check.
func HasRole(roles []Role, required Role) bool {
	for _, r := range roles {
		if r == required {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether roles contains at least one of required
func HasAnyRole(roles []Role, required ...Role) bool {
	for _, r := range required {
		if HasRole(roles, r) {
			return true
		}
	}
	return false
}

// NormalizeRoles drops unknown and duplicate roles, keeping first-seen order.
func NormalizeRoles(roles []Role) []Role {
	seen := make(map[Role]bool, len(roles))
	out := make([]Role, 0, len(roles))
	for _, r := range roles {
		if !r.Valid() || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}

// AccessToken is the persisted record of an issued JWT.
type AccessToken struct {
	ID        int64     `json:"id"`
	Token     string    `json:"-"`
	UserID    int64     `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Revoked   bool      `json:"revoked"`
	Expired   bool      `json:"expired"`
	IPAddress string    `json:"ip_address,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
}

// Usable reports whether the token may still authenticate a request at now.
func (t *AccessToken) Usable(now time.Time) bool {
	return !t.Expired && !t.Revoked && now.Before(t.ExpiresAt)
}

// RefreshToken is an opaque, human-readable credential used to obtain new
// access tokens.
type RefreshToken struct {
	ID        int64     `json:"id"`
	Token     string    `json:"-"`
	UserID    int64     `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Expired   bool      `json:"expired"`
}

// Usable reports whether the refresh token can still be exchanged at now.
func (t *RefreshToken) Usable(now time.Time) bool {
	return !t.Expired && now.Before(t.ExpiresAt)
}

// TokenPair is returned by signup, login and refresh.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// ClientInfo identifies the device a request came from.
type ClientInfo struct {
	IPAddress string
	UserAgent string
}

// CleanupResult reports a combined mark and delete pass.
type CleanupResult struct {
	Marked  int64 `json:"markedCount"`
	Deleted int64 `json:"deletedCount"`
}

// AuthContext holds the authenticated user of a request
type AuthContext struct {
	User  *User
	Token string
}

// HasRole checks if the authenticated user has a specific role
func (ac *AuthContext) HasRole(role Role) bool {
	if ac == nil {
		return false
	}
	return ac.User.HasRole(role)
}
