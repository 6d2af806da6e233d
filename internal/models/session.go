package models

import "time"

// ChatSession is one ephemeral host/guest conversation.
type ChatSession struct {
	ChatID     string     `db:"chat_id" json:"chat_id"`
	HostName   string     `db:"host_name" json:"host_name"`
	GuestName  *string    `db:"guest_name" json:"guest_name"`
	IsActive   bool       `db:"is_active" json:"is_active"`
	InviteUsed bool       `db:"invite_used" json:"invite_used"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	EndedAt    *time.Time `db:"ended_at" json:"ended_at,omitempty"`
}

// Role identifies which side of a session a party is on.
type Role string

const (
	RoleHost  Role = "host"
	RoleGuest Role = "guest"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleHost || r == RoleGuest
}
