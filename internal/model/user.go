package model

import (
	"time"
)

// Role represents the role attached to an authenticated session.
type Role string

const (
	RoleAgent Role = "agent"
	RoleAdmin Role = "admin"
	RoleBot   Role = "bot"
)

// AgentCapable reports whether the role may claim and answer conversations.
func (r Role) AgentCapable() bool {
	return r == RoleAgent || r == RoleAdmin
}

// User represents an agent or admin account.
type User struct {
	ID       string    `json:"id" bson:"_id"`
	Name     string    `json:"name" bson:"name"`
	Role     Role      `json:"role" bson:"role"`
	IsOnline bool      `json:"is_online" bson:"is_online"`
	LastSeen time.Time `json:"last_seen" bson:"last_seen"`
}
