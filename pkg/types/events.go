package types

import (
	"encoding/json"
	"fmt"
)

// Inbound event names. The router dispatches on this closed set; anything
// else is rejected as a validation error.
const (
	EventDirectMessage      = "direct_message"
	EventGroupMessage       = "group_message"
	EventTypingStart        = "typing_start"
	EventTypingStop         = "typing_stop"
	EventMarkRead           = "mark_read"
	EventCreateGroup        = "create_group"
	EventAddGroupMembers    = "add_group_members"
	EventRemoveGroupMembers = "remove_group_members"
	EventAddCourseStudents  = "add_course_students"
	EventGetMessages        = "get_messages"
)

// Outbound event names.
const (
	EventConnected         = "connected"
	EventNewMessage        = "new_message"
	EventMessageSent       = "message_sent"
	EventUserTyping        = "user_typing"
	EventUserStoppedTyping = "user_stopped_typing"
	EventMessagesRead      = "messages_read"
	EventGroupCreated      = "group_created"
	EventGroupJoined       = "group_joined"
	EventGroupLeft         = "group_left"
	EventMembersAdded      = "members_added"
	EventMembersRemoved    = "members_removed"
	EventMessageHistory    = "message_history"
	EventUserOffline       = "user_offline"
	EventError             = "error"
)

// Event is the wire envelope in both directions.
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEvent wraps payload in an envelope, marshaling it once.
func NewEvent(name string, payload any) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", name, err)
	}
	return &Event{Event: name, Data: data}, nil
}

// Inbound payloads. Field names match the client wire format; validate
// tags cover structural rules, cross-field rules live in the router.

type DirectMessagePayload struct {
	RecipientID int64  `json:"recipientId" validate:"required,gt=0"`
	Content     string `json:"content" validate:"required,max=4000"`
}

type GroupMessagePayload struct {
	GroupID int64  `json:"groupId" validate:"required,gt=0"`
	Content string `json:"content" validate:"required,max=4000"`
}

// TypingPayload addresses exactly one of a user or a group.
type TypingPayload struct {
	RecipientID *int64 `json:"recipientId,omitempty" validate:"omitempty,gt=0"`
	GroupID     *int64 `json:"groupId,omitempty" validate:"omitempty,gt=0"`
}

type MarkReadPayload struct {
	MessageIDs []int64 `json:"messageIds" validate:"required,min=1,dive,gt=0"`
	SenderID   *int64  `json:"senderId,omitempty" validate:"omitempty,gt=0"`
	GroupID    *int64  `json:"groupId,omitempty" validate:"omitempty,gt=0"`
}

type CreateGroupPayload struct {
	Name      string    `json:"name" validate:"required,max=200"`
	Kind      GroupKind `json:"type" validate:"required,oneof=course section class custom"`
	CourseID  *int64    `json:"courseId,omitempty" validate:"omitempty,gt=0"`
	MemberIDs []int64   `json:"memberIds" validate:"dive,gt=0"`
}

type GroupMembersPayload struct {
	GroupID   int64   `json:"groupId" validate:"required,gt=0"`
	MemberIDs []int64 `json:"memberIds" validate:"required,min=1,dive,gt=0"`
}

type CourseStudentsPayload struct {
	GroupID  int64 `json:"groupId" validate:"required,gt=0"`
	CourseID int64 `json:"courseId" validate:"required,gt=0"`
}

type GetMessagesPayload struct {
	Type        MessageType `json:"type" validate:"required,oneof=direct group"`
	RecipientID *int64      `json:"recipientId,omitempty" validate:"omitempty,gt=0"`
	GroupID     *int64      `json:"groupId,omitempty" validate:"omitempty,gt=0"`
	Limit       int         `json:"limit,omitempty" validate:"omitempty,gt=0,lte=200"`
	Before      int64       `json:"before,omitempty" validate:"omitempty,gt=0"`
}

// Outbound payloads.

type ConnectedPayload struct {
	UserID      int64    `json:"userId"`
	Groups      []*Group `json:"groups"`
	OnlineUsers []int64  `json:"onlineUsers"`
}

type TypingEventPayload struct {
	UserID   int64  `json:"userId"`
	UserName string `json:"userName,omitempty"`
	GroupID  *int64 `json:"groupId,omitempty"`
}

type MessagesReadPayload struct {
	MessageIDs []int64 `json:"messageIds"`
	ReadBy     int64   `json:"readBy"`
}

type GroupLeftPayload struct {
	GroupID int64 `json:"groupId"`
}

type MembersChangedPayload struct {
	GroupID   int64   `json:"groupId"`
	MemberIDs []int64 `json:"memberIds"`
	Message   string  `json:"message,omitempty"`
}

type MessageHistoryPayload struct {
	Type        MessageType `json:"type"`
	RecipientID *int64      `json:"recipientId,omitempty"`
	GroupID     *int64      `json:"groupId,omitempty"`
	Messages    []*Message  `json:"messages"`
}

type UserOfflinePayload struct {
	UserID int64 `json:"userId"`
}
