package types

import "time"

// Role is the coarse permission label attached to an account.
type Role string

// Supported roles.
const (
	// RoleUser is assigned to every self-registered account.
	RoleUser Role = "USER"
)

// User represents an account in the system.
// It contains identity, role, and audit metadata.
type User struct {
	// ID is the unique identifier of the user.
	ID int `json:"id" db:"id"`

	// Email is the user's email address. It is the login key and is
	// unique across all accounts; comparisons are case-sensitive.
	Email string `json:"email" db:"email"`

	// FirstName is the user's given name.
	FirstName string `json:"firstName" db:"first_name"`

	// LastName is the user's family name.
	LastName string `json:"lastName" db:"last_name"`

	// Role indicates the user's authorization level within the system.
	Role Role `json:"role" db:"role"`

	// PasswordHash stores the hashed representation of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the user account.
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// AuthoritiesFor maps a role to the authority set granted to it.
// An unknown or empty role grants nothing.
func AuthoritiesFor(role Role) []string {
	switch role {
	case RoleUser:
		return []string{string(RoleUser)}
	default:
		return nil
	}
}
