package router

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/go-playground/validator/v10"

	"schoolchat/internal/groups"
	"schoolchat/internal/registry"
	"schoolchat/pkg/types"
)

// Store is the slice of the persistence collaborator the router itself
// calls; membership mutations go through the synchronizer.
type Store interface {
	SaveDirectMessage(ctx context.Context, fromID, toID int64, content string) (int64, error)
	SaveGroupMessage(ctx context.Context, groupID, senderID int64, content string) (int64, error)
	ListDirectMessages(ctx context.Context, userID, peerID int64, limit int, before int64) ([]*types.Message, error)
	ListGroupMessages(ctx context.Context, groupID int64, limit int, before int64) ([]*types.Message, error)
	MarkMessagesRead(ctx context.Context, messageIDs []int64, readerID int64) error
}

// Router validates, persists, and fans out every inbound event. Handlers
// run on the owning connection's read goroutine, so events from one
// connection are processed in arrival order. Every failure is converted
// to an error event on the initiating connection; nothing propagates.
type Router struct {
	registry *registry.Registry
	store    Store
	sync     *groups.Synchronizer
	validate *validator.Validate
}

func NewRouter(reg *registry.Registry, st Store, sync *groups.Synchronizer) *Router {
	return &Router{
		registry: reg,
		store:    st,
		sync:     sync,
		validate: validator.New(),
	}
}

// HandleEvent dispatches one inbound event. Unknown event names are
// validation errors, keeping the inbound surface a closed set.
func (r *Router) HandleEvent(ctx context.Context, conn registry.Conn, evt *types.Event) {
	switch evt.Event {
	case types.EventDirectMessage:
		r.handleDirectMessage(ctx, conn, evt.Data)
	case types.EventGroupMessage:
		r.handleGroupMessage(ctx, conn, evt.Data)
	case types.EventTypingStart:
		r.handleTyping(conn, evt.Data, true)
	case types.EventTypingStop:
		r.handleTyping(conn, evt.Data, false)
	case types.EventMarkRead:
		r.handleMarkRead(ctx, conn, evt.Data)
	case types.EventGetMessages:
		r.handleGetMessages(ctx, conn, evt.Data)
	case types.EventCreateGroup:
		r.handleCreateGroup(ctx, conn, evt.Data)
	case types.EventAddGroupMembers:
		r.handleAddMembers(ctx, conn, evt.Data)
	case types.EventRemoveGroupMembers:
		r.handleRemoveMembers(ctx, conn, evt.Data)
	case types.EventAddCourseStudents:
		r.handleAddCourseStudents(ctx, conn, evt.Data)
	default:
		r.sendError(conn, types.ErrorKindValidation, "unknown event: "+evt.Event)
	}
}

// decode unmarshals and validates a payload, reporting a validation
// error to the connection on failure.
func (r *Router) decode(conn registry.Conn, data json.RawMessage, dst any) bool {
	if err := json.Unmarshal(data, dst); err != nil {
		r.sendError(conn, types.ErrorKindValidation, "malformed payload")
		return false
	}
	if err := r.validate.Struct(dst); err != nil {
		r.sendError(conn, types.ErrorKindValidation, "invalid payload: "+err.Error())
		return false
	}
	return true
}

func (r *Router) handleDirectMessage(ctx context.Context, conn registry.Conn, data json.RawMessage) {
	var p types.DirectMessagePayload
	if !r.decode(conn, data, &p) {
		return
	}
	sender := conn.Identity()

	id, err := r.store.SaveDirectMessage(ctx, sender.UserID, p.RecipientID, p.Content)
	if err != nil {
		log.Printf("router: save direct message from %d: %v", sender.UserID, err)
		r.sendError(conn, types.ErrorKindPersistence, "failed to send message")
		return
	}

	msg := &types.Message{
		ID:          id,
		SenderID:    sender.UserID,
		SenderName:  sender.Name,
		Content:     p.Content,
		Timestamp:   time.Now().UTC(),
		RecipientID: &p.RecipientID,
		Type:        types.MessageTypeDirect,
	}
	// Offline recipients miss the live event; the message is durable and
	// comes back on their next history fetch.
	r.registry.SendToUser(p.RecipientID, types.EventNewMessage, msg)
	if err := conn.SendEvent(types.EventMessageSent, msg); err != nil {
		log.Printf("router: echo message_sent to %d: %v", sender.UserID, err)
	}
}

func (r *Router) handleGroupMessage(ctx context.Context, conn registry.Conn, data json.RawMessage) {
	var p types.GroupMessagePayload
	if !r.decode(conn, data, &p) {
		return
	}
	sender := conn.Identity()

	// A connection removed from the group keeps no send right even if
	// its client retained stale state.
	if !r.registry.IsSubscribed(sender.UserID, p.GroupID) {
		r.sendError(conn, types.ErrorKindAuthorization, "not a member of this group")
		return
	}

	id, err := r.store.SaveGroupMessage(ctx, p.GroupID, sender.UserID, p.Content)
	if err != nil {
		log.Printf("router: save group message from %d to group %d: %v", sender.UserID, p.GroupID, err)
		r.sendError(conn, types.ErrorKindPersistence, "failed to send message")
		return
	}

	msg := &types.Message{
		ID:         id,
		SenderID:   sender.UserID,
		SenderName: sender.Name,
		Content:    p.Content,
		Timestamp:  time.Now().UTC(),
		GroupID:    &p.GroupID,
		Type:       types.MessageTypeGroup,
	}
	r.registry.BroadcastRoom(p.GroupID, 0, types.EventNewMessage, msg)
}

func (r *Router) handleTyping(conn registry.Conn, data json.RawMessage, start bool) {
	var p types.TypingPayload
	if !r.decode(conn, data, &p) {
		return
	}
	if (p.RecipientID == nil) == (p.GroupID == nil) {
		r.sendError(conn, types.ErrorKindValidation, "exactly one of recipientId and groupId is required")
		return
	}
	sender := conn.Identity()

	event := types.EventUserTyping
	payload := &types.TypingEventPayload{UserID: sender.UserID, UserName: sender.Name}
	if !start {
		// Stop events carry only the user id.
		event = types.EventUserStoppedTyping
		payload.UserName = ""
	}

	if p.RecipientID != nil {
		r.registry.SendToUser(*p.RecipientID, event, payload)
		return
	}
	payload.GroupID = p.GroupID
	r.registry.BroadcastRoom(*p.GroupID, sender.UserID, event, payload)
}

func (r *Router) handleMarkRead(ctx context.Context, conn registry.Conn, data json.RawMessage) {
	var p types.MarkReadPayload
	if !r.decode(conn, data, &p) {
		return
	}
	reader := conn.Identity()

	if err := r.store.MarkMessagesRead(ctx, p.MessageIDs, reader.UserID); err != nil {
		log.Printf("router: mark read for user %d: %v", reader.UserID, err)
		r.sendError(conn, types.ErrorKindPersistence, "failed to mark messages read")
		return
	}
	// Live read receipts exist only for direct messages; group read state
	// is many-to-many and stays persistence-only.
	if p.SenderID != nil {
		r.registry.SendToUser(*p.SenderID, types.EventMessagesRead, &types.MessagesReadPayload{
			MessageIDs: p.MessageIDs,
			ReadBy:     reader.UserID,
		})
	}
}

func (r *Router) handleGetMessages(ctx context.Context, conn registry.Conn, data json.RawMessage) {
	var p types.GetMessagesPayload
	if !r.decode(conn, data, &p) {
		return
	}
	me := conn.Identity()

	var (
		messages []*types.Message
		err      error
	)
	switch {
	case p.Type == types.MessageTypeDirect && p.RecipientID != nil:
		messages, err = r.store.ListDirectMessages(ctx, me.UserID, *p.RecipientID, p.Limit, p.Before)
	case p.Type == types.MessageTypeGroup && p.GroupID != nil:
		messages, err = r.store.ListGroupMessages(ctx, *p.GroupID, p.Limit, p.Before)
	default:
		r.sendError(conn, types.ErrorKindValidation, "history target does not match type")
		return
	}
	if err != nil {
		log.Printf("router: fetch history for user %d: %v", me.UserID, err)
		r.sendError(conn, types.ErrorKindPersistence, "failed to fetch messages")
		return
	}
	if messages == nil {
		messages = []*types.Message{}
	}

	if err := conn.SendEvent(types.EventMessageHistory, &types.MessageHistoryPayload{
		Type:        p.Type,
		RecipientID: p.RecipientID,
		GroupID:     p.GroupID,
		Messages:    messages,
	}); err != nil {
		log.Printf("router: send history to %d: %v", me.UserID, err)
	}
}

// requireManager is the shared role gate for membership-mutating events.
func (r *Router) requireManager(conn registry.Conn) bool {
	if conn.Identity().Role.CanManageGroups() {
		return true
	}
	r.sendError(conn, types.ErrorKindAuthorization, "only admins and teachers can manage groups")
	return false
}

func (r *Router) handleCreateGroup(ctx context.Context, conn registry.Conn, data json.RawMessage) {
	if !r.requireManager(conn) {
		return
	}
	var p types.CreateGroupPayload
	if !r.decode(conn, data, &p) {
		return
	}
	if err := r.sync.CreateGroup(ctx, conn, &p); err != nil {
		log.Printf("router: create group for user %d: %v", conn.Identity().UserID, err)
		r.sendError(conn, types.ErrorKindPersistence, "failed to create group")
	}
}

func (r *Router) handleAddMembers(ctx context.Context, conn registry.Conn, data json.RawMessage) {
	if !r.requireManager(conn) {
		return
	}
	var p types.GroupMembersPayload
	if !r.decode(conn, data, &p) {
		return
	}
	if err := r.sync.AddMembers(ctx, p.GroupID, p.MemberIDs); err != nil {
		log.Printf("router: add members to group %d: %v", p.GroupID, err)
		r.sendError(conn, types.ErrorKindPersistence, "failed to add members")
	}
}

func (r *Router) handleRemoveMembers(ctx context.Context, conn registry.Conn, data json.RawMessage) {
	if !r.requireManager(conn) {
		return
	}
	var p types.GroupMembersPayload
	if !r.decode(conn, data, &p) {
		return
	}
	if err := r.sync.RemoveMembers(ctx, p.GroupID, p.MemberIDs); err != nil {
		log.Printf("router: remove members from group %d: %v", p.GroupID, err)
		r.sendError(conn, types.ErrorKindPersistence, "failed to remove members")
	}
}

func (r *Router) handleAddCourseStudents(ctx context.Context, conn registry.Conn, data json.RawMessage) {
	if !r.requireManager(conn) {
		return
	}
	var p types.CourseStudentsPayload
	if !r.decode(conn, data, &p) {
		return
	}
	if err := r.sync.AddCourseStudents(ctx, p.GroupID, p.CourseID); err != nil {
		log.Printf("router: add course %d students to group %d: %v", p.CourseID, p.GroupID, err)
		r.sendError(conn, types.ErrorKindPersistence, "failed to add course students")
	}
}

func (r *Router) sendError(conn registry.Conn, kind types.ErrorKind, message string) {
	if err := conn.SendEvent(types.EventError, &types.ErrorPayload{Kind: kind, Message: message}); err != nil {
		log.Printf("router: send error event to %d: %v", conn.Identity().UserID, err)
	}
}
