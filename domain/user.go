package domain

import (
	"strings"
	"time"
)

type Role string

const (
	RoleUser     Role = "user"
	RoleMechanic Role = "mechanic"
	RoleAdmin    Role = "admin"
)

// ParseRole maps an empty role to RoleUser, matching registration defaults.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case "", RoleUser:
		return RoleUser, nil
	case RoleMechanic:
		return RoleMechanic, nil
	case RoleAdmin:
		return RoleAdmin, nil
	}
	return "", NewValidationError("invalid role %q", s)
}

// User represents a requester, a mechanic or an admin
type User struct {
	ID           string    `json:"id" bson:"_id"`
	Name         string    `json:"name" bson:"name"`
	Email        string    `json:"email" bson:"email"`
	Phone        string    `json:"phone" bson:"phone"`
	PasswordHash string    `json:"-" bson:"password"`
	Role         Role      `json:"role" bson:"role"`
	CreatedAt    time.Time `json:"createdAt" bson:"createdAt"`
}

// UserContact is the minimal identity joined into other entities
type UserContact struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone"`
}

// UnknownUser is the placeholder used when a referenced user was deleted.
const UnknownUser = "Unknown"

// NotAvailable is the placeholder for absent optional values in joined views.
const NotAvailable = "N/A"

// ContactOf joins u into a contact view. A nil user yields the placeholder.
func ContactOf(id string, u *User) UserContact {
	if u == nil {
		return UserContact{ID: id, Name: UnknownUser, Phone: NotAvailable}
	}
	return UserContact{ID: u.ID, Name: u.Name, Email: u.Email, Phone: u.Phone}
}

// Actor is the authenticated caller of a service operation.
type Actor struct {
	UserID string
	Role   Role
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// NormalizeEmail lower-cases and trims an email so uniqueness is case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
