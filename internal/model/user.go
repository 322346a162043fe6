package model

import "time"

// Staff roles.
const (
	RoleAdmin   = "ADMIN"
	RoleCounter = "COUNTER"
	RoleScanner = "SCANNER"
)

// ValidRole reports whether r is a known staff role.
func ValidRole(r string) bool {
	return r == RoleAdmin || r == RoleCounter || r == RoleScanner
}

// User represents a staff account as stored in the `users` table.
// Visitors never log in; only admin, counter and gate staff do.
//
// Fields:
//
//	ID           – primary key identifier of the user.
//	Email        – unique email address.
//	PasswordHash – bcrypt hashed password.
//	Role         – ADMIN, COUNTER or SCANNER.
//	IsActive     – whether the account may log in.
type User struct {
	ID           uint64    // users.id
	Email        string    // users.email
	PasswordHash string    // users.password_hash
	Role         string    // users.role
	IsActive     bool      // users.is_active
	CreatedAt    time.Time // users.created_at
	UpdatedAt    time.Time // users.updated_at
}

// RefreshToken models an entry in the `refresh_tokens` table.  Only the
// SHA-256 hash of the token is stored.
type RefreshToken struct {
	ID        uint64     // refresh_tokens.id
	UserID    uint64     // refresh_tokens.user_id
	TokenHash string     // refresh_tokens.token_hash
	ExpiresAt time.Time  // refresh_tokens.expires_at
	RevokedAt *time.Time // refresh_tokens.revoked_at (nullable)
	CreatedAt time.Time  // refresh_tokens.created_at
}
