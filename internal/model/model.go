// Package model defines the session records persisted by the client.
package model

import (
	"fmt"
	"strings"
	"time"
)

// Role identifies which marketplace identity a session belongs to.
type Role string

const (
	RoleFarmer Role = "farmer"
	RoleBuyer  Role = "buyer"

	// RoleAny accepts either role (role-agnostic pages).
	RoleAny Role = ""
)

// Storage keys of the live per-role slots and the remember-me slot.
const (
	BuyerSessionKey  = "buyerSession"
	FarmerSessionKey = "farmerSession"
	RememberMeKey    = "rememberedSession"
)

// Roles lists concrete roles in the order they are checked for RoleAny.
var Roles = []Role{RoleBuyer, RoleFarmer}

// ParseRole converts user input into a Role. Empty input yields RoleAny.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleFarmer, RoleBuyer, RoleAny:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// Valid reports whether r is a concrete role.
func (r Role) Valid() bool { return r == RoleFarmer || r == RoleBuyer }

// SessionKey returns the live storage slot of the role, or "" for RoleAny.
func (r Role) SessionKey() string {
	switch r {
	case RoleBuyer:
		return BuyerSessionKey
	case RoleFarmer:
		return FarmerSessionKey
	default:
		return ""
	}
}

func (r Role) String() string {
	if r == RoleAny {
		return "any"
	}
	return string(r)
}

// Identity is what the external API hands back after login or signup.
type Identity struct {
	UserID string
	Token  string
	Email  string
	Phone  string
	Role   Role
}

// RememberedSession is the single long-lived auto-login record.
type RememberedSession struct {
	UserID    string `json:"userId"`
	Email     string `json:"email,omitempty"`
	UserType  Role   `json:"userType"`
	Token     string `json:"token"`
	Timestamp int64  `json:"timestamp"` // epoch ms of creation or last touch
}

// Identity converts the remembered record back into an Identity.
func (s RememberedSession) Identity() Identity {
	return Identity{UserID: s.UserID, Token: s.Token, Email: s.Email, Role: s.UserType}
}

// StoredAt returns the creation/refresh time.
func (s RememberedSession) StoredAt() time.Time { return time.UnixMilli(s.Timestamp) }

// ExpiresAt returns the moment the record becomes void for the given window.
func (s RememberedSession) ExpiresAt(window time.Duration) time.Time {
	return s.StoredAt().Add(window)
}

// LiveSession is a short-lived role-scoped session consulted on every protected operation.
// UserType tags which role the record was written for.
type LiveSession struct {
	UserID   string `json:"userId"`
	Token    string `json:"token"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	UserType Role   `json:"userType"`
	Expiry   int64  `json:"expiry"` // epoch ms
}

// NewLiveSession builds a live record for id that expires at expiry.
func NewLiveSession(id Identity, expiry time.Time) LiveSession {
	s := LiveSession{
		UserID:   id.UserID,
		Token:    id.Token,
		Email:    id.Email,
		Phone:    id.Phone,
		UserType: id.Role,
		Expiry:   expiry.UnixMilli(),
	}
	// farmer sessions historically carry no email
	if id.Role == RoleFarmer {
		s.Email = ""
	}
	return s
}

// Identity converts the live record into an Identity.
func (s LiveSession) Identity() Identity {
	return Identity{UserID: s.UserID, Token: s.Token, Email: s.Email, Phone: s.Phone, Role: s.UserType}
}

// ExpiresAt returns the expiry as time.
func (s LiveSession) ExpiresAt() time.Time { return time.UnixMilli(s.Expiry) }

// Valid reports userId && token && now < expiry.
func (s LiveSession) Valid(now time.Time) bool {
	return s.UserID != "" && s.Token != "" && now.UnixMilli() < s.Expiry
}
