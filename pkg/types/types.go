package types

import (
	"time"
)

// Role is the authenticated role carried in the connection credential.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// CanManageGroups reports whether the role may create groups or mutate
// group membership. This is the only role gate in the realtime layer.
func (r Role) CanManageGroups() bool {
	return r == RoleAdmin || r == RoleTeacher
}

// GroupKind classifies a chat group.
type GroupKind string

const (
	GroupKindCourse  GroupKind = "course"
	GroupKindSection GroupKind = "section"
	GroupKindClass   GroupKind = "class"
	GroupKindCustom  GroupKind = "custom"
)

// MessageType discriminates the two addressing modes of a Message.
type MessageType string

const (
	MessageTypeDirect MessageType = "direct"
	MessageTypeGroup  MessageType = "group"
)

// Identity is the result of verifying a connection credential.
type Identity struct {
	UserID int64  `json:"userId"`
	Role   Role   `json:"role"`
	Name   string `json:"name"`
}

// User is an account row. The password hash never serializes.
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Role         Role      `json:"role"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Group is a persisted chat group. Members holds the active member user
// ids and is populated only by lookups that load the full record.
type Group struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Kind      GroupKind `json:"type"`
	CourseID  *int64    `json:"courseId,omitempty"`
	CreatedBy int64     `json:"createdBy"`
	Members   []int64   `json:"members,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Message is a chat message as delivered on the wire. Exactly one of
// RecipientID and GroupID is set, matching Type.
type Message struct {
	ID          int64       `json:"id"`
	SenderID    int64       `json:"senderId"`
	SenderName  string      `json:"senderName"`
	Content     string      `json:"content"`
	Timestamp   time.Time   `json:"timestamp"`
	RecipientID *int64      `json:"recipientId,omitempty"`
	GroupID     *int64      `json:"groupId,omitempty"`
	Read        bool        `json:"isRead,omitempty"`
	Type        MessageType `json:"type"`
}

// Validate checks the single-addressing invariant.
func (m *Message) Validate() error {
	direct := m.RecipientID != nil
	group := m.GroupID != nil
	if direct == group {
		return ErrAmbiguousAddressing
	}
	if direct && m.Type != MessageTypeDirect {
		return ErrAddressingMismatch
	}
	if group && m.Type != MessageTypeGroup {
		return ErrAddressingMismatch
	}
	return nil
}
