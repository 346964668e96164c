package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"schoolchat/internal/groups"
	"schoolchat/internal/registry"
	"schoolchat/pkg/types"
)

type sentEvent struct {
	name    string
	payload any
}

type fakeConn struct {
	id       string
	identity types.Identity

	mu     sync.Mutex
	events []sentEvent
}

func newFakeConn(userID int64, role types.Role, name string) *fakeConn {
	return &fakeConn{
		id:       fmt.Sprintf("conn-%d", userID),
		identity: types.Identity{UserID: userID, Role: role, Name: name},
	}
}

func (c *fakeConn) ConnectionID() string     { return c.id }
func (c *fakeConn) Identity() types.Identity { return c.identity }
func (c *fakeConn) Close() error             { return nil }

func (c *fakeConn) SendEvent(name string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, sentEvent{name: name, payload: payload})
	return nil
}

func (c *fakeConn) sent() []sentEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentEvent(nil), c.events...)
}

// lastEvent returns the most recent event with the given name, or nil.
func (c *fakeConn) lastEvent(name string) *sentEvent {
	events := c.sent()
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].name == name {
			return &events[i]
		}
	}
	return nil
}

func (c *fakeConn) countEvents(name string) int {
	n := 0
	for _, e := range c.sent() {
		if e.name == name {
			n++
		}
	}
	return n
}

type savedMessage struct {
	from, to, group int64
	content         string
}

// fakeStore satisfies both the router's and the synchronizer's store
// interfaces with in-memory state.
type fakeStore struct {
	mu          sync.Mutex
	nextID      int64
	direct      []savedMessage
	group       []savedMessage
	groups      map[int64]*types.Group
	enrollments map[int64][]int64
	readMarks   map[int64][]int64
	failWrites  bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		groups:      make(map[int64]*types.Group),
		enrollments: make(map[int64][]int64),
		readMarks:   make(map[int64][]int64),
	}
}

func (s *fakeStore) SaveDirectMessage(_ context.Context, fromID, toID int64, content string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites {
		return 0, errors.New("database gone")
	}
	s.nextID++
	s.direct = append(s.direct, savedMessage{from: fromID, to: toID, content: content})
	return s.nextID, nil
}

func (s *fakeStore) SaveGroupMessage(_ context.Context, groupID, senderID int64, content string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites {
		return 0, errors.New("database gone")
	}
	s.nextID++
	s.group = append(s.group, savedMessage{from: senderID, group: groupID, content: content})
	return s.nextID, nil
}

func (s *fakeStore) ListDirectMessages(_ context.Context, userID, peerID int64, limit int, before int64) ([]*types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Message
	for _, m := range s.direct {
		if (m.from == userID && m.to == peerID) || (m.from == peerID && m.to == userID) {
			to := m.to
			out = append(out, &types.Message{SenderID: m.from, RecipientID: &to, Content: m.content, Type: types.MessageTypeDirect})
		}
	}
	return out, nil
}

func (s *fakeStore) ListGroupMessages(_ context.Context, groupID int64, limit int, before int64) ([]*types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Message
	for _, m := range s.group {
		if m.group == groupID {
			g := m.group
			out = append(out, &types.Message{SenderID: m.from, GroupID: &g, Content: m.content, Type: types.MessageTypeGroup})
		}
	}
	return out, nil
}

func (s *fakeStore) MarkMessagesRead(_ context.Context, messageIDs []int64, readerID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites {
		return errors.New("database gone")
	}
	s.readMarks[readerID] = append(s.readMarks[readerID], messageIDs...)
	return nil
}

func (s *fakeStore) CreateGroup(_ context.Context, name string, kind types.GroupKind, courseID *int64, createdBy int64, memberIDs []int64) (*types.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites {
		return nil, errors.New("database gone")
	}
	s.nextID++
	members := []int64{createdBy}
	for _, id := range memberIDs {
		if id != createdBy {
			members = append(members, id)
		}
	}
	g := &types.Group{ID: s.nextID, Name: name, Kind: kind, CourseID: courseID, CreatedBy: createdBy, Members: members}
	s.groups[g.ID] = g
	return g, nil
}

func (s *fakeStore) GetGroup(_ context.Context, groupID int64) (*types.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupID]
	if !ok {
		return nil, errors.New("group not found")
	}
	return g, nil
}

func (s *fakeStore) AddGroupMembers(_ context.Context, groupID int64, memberIDs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites {
		return errors.New("database gone")
	}
	g, ok := s.groups[groupID]
	if !ok {
		return errors.New("group not found")
	}
	for _, id := range memberIDs {
		present := false
		for _, existing := range g.Members {
			if existing == id {
				present = true
			}
		}
		if !present {
			g.Members = append(g.Members, id)
		}
	}
	return nil
}

func (s *fakeStore) RemoveGroupMembers(_ context.Context, groupID int64, memberIDs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites {
		return errors.New("database gone")
	}
	g, ok := s.groups[groupID]
	if !ok {
		return errors.New("group not found")
	}
	var kept []int64
	for _, existing := range g.Members {
		removed := false
		for _, id := range memberIDs {
			if existing == id {
				removed = true
			}
		}
		if !removed {
			kept = append(kept, existing)
		}
	}
	g.Members = kept
	return nil
}

func (s *fakeStore) ListCourseEnrollments(_ context.Context, courseID int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.enrollments[courseID]...), nil
}

func newTestRouter() (*Router, *registry.Registry, *fakeStore) {
	st := newFakeStore()
	reg := registry.NewRegistry()
	return NewRouter(reg, st, groups.NewSynchronizer(reg, st)), reg, st
}

func dispatch(t *testing.T, r *Router, conn registry.Conn, event string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	r.HandleEvent(context.Background(), conn, &types.Event{Event: event, Data: data})
}

func TestDirectMessageDeliveredAndEchoed(t *testing.T) {
	r, reg, st := newTestRouter()
	alice := newFakeConn(1, types.RoleStudent, "Alice")
	bob := newFakeConn(2, types.RoleStudent, "Bob")
	reg.Register(alice, nil)
	reg.Register(bob, nil)

	dispatch(t, r, alice, types.EventDirectMessage, map[string]any{"recipientId": 2, "content": "hi"})

	got := bob.lastEvent(types.EventNewMessage)
	if got == nil {
		t.Fatal("recipient did not receive new_message")
	}
	msg := got.payload.(*types.Message)
	if msg.SenderID != 1 || msg.SenderName != "Alice" || msg.Content != "hi" {
		t.Errorf("unexpected message: %+v", msg)
	}
	if msg.Type != types.MessageTypeDirect || msg.RecipientID == nil || *msg.RecipientID != 2 {
		t.Errorf("bad addressing: %+v", msg)
	}

	echo := alice.lastEvent(types.EventMessageSent)
	if echo == nil {
		t.Fatal("sender did not receive message_sent")
	}
	if echo.payload.(*types.Message).ID != msg.ID {
		t.Error("echo should carry the persisted message")
	}

	if len(st.direct) != 1 || st.direct[0].content != "hi" {
		t.Errorf("message not persisted: %+v", st.direct)
	}
}

func TestDirectMessageOfflineRecipientStillPersisted(t *testing.T) {
	r, reg, st := newTestRouter()
	alice := newFakeConn(1, types.RoleStudent, "Alice")
	reg.Register(alice, nil)

	dispatch(t, r, alice, types.EventDirectMessage, map[string]any{"recipientId": 9, "content": "hello?"})

	if len(st.direct) != 1 {
		t.Fatalf("expected persisted message, got %+v", st.direct)
	}
	if alice.lastEvent(types.EventMessageSent) == nil {
		t.Error("sender should still receive message_sent")
	}
	if alice.lastEvent(types.EventError) != nil {
		t.Error("offline recipient is not an error")
	}
}

func TestDirectMessagePersistenceFailure(t *testing.T) {
	r, reg, st := newTestRouter()
	st.failWrites = true
	alice := newFakeConn(1, types.RoleStudent, "Alice")
	bob := newFakeConn(2, types.RoleStudent, "Bob")
	reg.Register(alice, nil)
	reg.Register(bob, nil)

	dispatch(t, r, alice, types.EventDirectMessage, map[string]any{"recipientId": 2, "content": "hi"})

	errEvt := alice.lastEvent(types.EventError)
	if errEvt == nil {
		t.Fatal("expected error event")
	}
	if errEvt.payload.(*types.ErrorPayload).Kind != types.ErrorKindPersistence {
		t.Errorf("expected persistence kind, got %+v", errEvt.payload)
	}
	if bob.lastEvent(types.EventNewMessage) != nil {
		t.Error("failed save must not fan out")
	}
}

func TestGroupMessageFanOutIncludesSender(t *testing.T) {
	r, reg, st := newTestRouter()
	sender := newFakeConn(1, types.RoleStudent, "Alice")
	member := newFakeConn(2, types.RoleStudent, "Bob")
	outsider := newFakeConn(3, types.RoleStudent, "Carol")
	reg.Register(sender, []int64{10})
	reg.Register(member, []int64{10})
	reg.Register(outsider, nil)

	dispatch(t, r, sender, types.EventGroupMessage, map[string]any{"groupId": 10, "content": "hello class"})

	for _, c := range []*fakeConn{sender, member} {
		got := c.lastEvent(types.EventNewMessage)
		if got == nil {
			t.Fatalf("user %d missing new_message", c.identity.UserID)
		}
		msg := got.payload.(*types.Message)
		if msg.GroupID == nil || *msg.GroupID != 10 || msg.Type != types.MessageTypeGroup {
			t.Errorf("bad addressing for user %d: %+v", c.identity.UserID, msg)
		}
	}
	if outsider.lastEvent(types.EventNewMessage) != nil {
		t.Error("non-member received a group message")
	}
	if len(st.group) != 1 {
		t.Errorf("expected one persisted group message, got %+v", st.group)
	}
}

func TestGroupMessageRejectedForNonMember(t *testing.T) {
	r, reg, st := newTestRouter()
	sender := newFakeConn(1, types.RoleStudent, "Alice")
	member := newFakeConn(2, types.RoleStudent, "Bob")
	reg.Register(sender, nil)
	reg.Register(member, []int64{10})

	dispatch(t, r, sender, types.EventGroupMessage, map[string]any{"groupId": 10, "content": "sneaky"})

	errEvt := sender.lastEvent(types.EventError)
	if errEvt == nil {
		t.Fatal("expected error event")
	}
	if errEvt.payload.(*types.ErrorPayload).Kind != types.ErrorKindAuthorization {
		t.Errorf("expected authorization kind, got %+v", errEvt.payload)
	}
	if len(st.group) != 0 {
		t.Error("rejected message must not be persisted")
	}
	if member.lastEvent(types.EventNewMessage) != nil {
		t.Error("rejected message must not fan out")
	}
}

func TestTypingDirect(t *testing.T) {
	r, reg, _ := newTestRouter()
	alice := newFakeConn(1, types.RoleStudent, "Alice")
	bob := newFakeConn(2, types.RoleStudent, "Bob")
	reg.Register(alice, nil)
	reg.Register(bob, nil)

	dispatch(t, r, alice, types.EventTypingStart, map[string]any{"recipientId": 2})
	got := bob.lastEvent(types.EventUserTyping)
	if got == nil {
		t.Fatal("recipient missing user_typing")
	}
	p := got.payload.(*types.TypingEventPayload)
	if p.UserID != 1 || p.UserName != "Alice" {
		t.Errorf("unexpected typing payload: %+v", p)
	}

	dispatch(t, r, alice, types.EventTypingStop, map[string]any{"recipientId": 2})
	stop := bob.lastEvent(types.EventUserStoppedTyping)
	if stop == nil {
		t.Fatal("recipient missing user_stopped_typing")
	}
	if stop.payload.(*types.TypingEventPayload).UserName != "" {
		t.Error("stop event should not carry the user name")
	}
}

func TestTypingGroupExcludesSender(t *testing.T) {
	r, reg, _ := newTestRouter()
	alice := newFakeConn(1, types.RoleStudent, "Alice")
	bob := newFakeConn(2, types.RoleStudent, "Bob")
	reg.Register(alice, []int64{10})
	reg.Register(bob, []int64{10})

	dispatch(t, r, alice, types.EventTypingStart, map[string]any{"groupId": 10})

	got := bob.lastEvent(types.EventUserTyping)
	if got == nil {
		t.Fatal("member missing user_typing")
	}
	p := got.payload.(*types.TypingEventPayload)
	if p.GroupID == nil || *p.GroupID != 10 {
		t.Errorf("typing payload missing group id: %+v", p)
	}
	if alice.lastEvent(types.EventUserTyping) != nil {
		t.Error("sender must not receive their own typing event")
	}
}

func TestTypingRequiresExactlyOneTarget(t *testing.T) {
	r, reg, _ := newTestRouter()
	alice := newFakeConn(1, types.RoleStudent, "Alice")
	reg.Register(alice, nil)

	for _, payload := range []map[string]any{
		{},
		{"recipientId": 2, "groupId": 10},
	} {
		dispatch(t, r, alice, types.EventTypingStart, payload)
		errEvt := alice.lastEvent(types.EventError)
		if errEvt == nil {
			t.Fatalf("payload %v: expected error event", payload)
		}
		if errEvt.payload.(*types.ErrorPayload).Kind != types.ErrorKindValidation {
			t.Errorf("payload %v: expected validation kind, got %+v", payload, errEvt.payload)
		}
	}
}

func TestMarkReadNotifiesSender(t *testing.T) {
	r, reg, st := newTestRouter()
	alice := newFakeConn(1, types.RoleStudent, "Alice")
	bob := newFakeConn(2, types.RoleStudent, "Bob")
	reg.Register(alice, nil)
	reg.Register(bob, nil)

	dispatch(t, r, bob, types.EventMarkRead, map[string]any{"messageIds": []int64{5, 6}, "senderId": 1})

	if got := st.readMarks[2]; len(got) != 2 {
		t.Errorf("expected marks recorded for reader 2, got %v", st.readMarks)
	}
	evt := alice.lastEvent(types.EventMessagesRead)
	if evt == nil {
		t.Fatal("sender missing messages_read")
	}
	p := evt.payload.(*types.MessagesReadPayload)
	if p.ReadBy != 2 || len(p.MessageIDs) != 2 {
		t.Errorf("unexpected receipt: %+v", p)
	}
}

func TestMarkReadGroupHasNoReceipt(t *testing.T) {
	r, reg, st := newTestRouter()
	alice := newFakeConn(1, types.RoleStudent, "Alice")
	bob := newFakeConn(2, types.RoleStudent, "Bob")
	reg.Register(alice, []int64{10})
	reg.Register(bob, []int64{10})

	dispatch(t, r, bob, types.EventMarkRead, map[string]any{"messageIds": []int64{5}, "groupId": 10})

	if len(st.readMarks[2]) != 1 {
		t.Errorf("expected mark persisted, got %v", st.readMarks)
	}
	if alice.lastEvent(types.EventMessagesRead) != nil {
		t.Error("group reads do not produce live receipts")
	}
}

func TestGetMessagesDirect(t *testing.T) {
	r, reg, st := newTestRouter()
	alice := newFakeConn(1, types.RoleStudent, "Alice")
	reg.Register(alice, nil)
	st.SaveDirectMessage(context.Background(), 1, 2, "hi")
	st.SaveDirectMessage(context.Background(), 2, 1, "hello")

	dispatch(t, r, alice, types.EventGetMessages, map[string]any{"type": "direct", "recipientId": 2})

	evt := alice.lastEvent(types.EventMessageHistory)
	if evt == nil {
		t.Fatal("missing message_history")
	}
	p := evt.payload.(*types.MessageHistoryPayload)
	if p.Type != types.MessageTypeDirect || len(p.Messages) != 2 {
		t.Errorf("unexpected history: %+v", p)
	}
}

func TestGetMessagesEmptyHistoryIsNotNil(t *testing.T) {
	r, reg, _ := newTestRouter()
	alice := newFakeConn(1, types.RoleStudent, "Alice")
	reg.Register(alice, nil)

	dispatch(t, r, alice, types.EventGetMessages, map[string]any{"type": "direct", "recipientId": 2})

	evt := alice.lastEvent(types.EventMessageHistory)
	if evt == nil {
		t.Fatal("missing message_history")
	}
	if evt.payload.(*types.MessageHistoryPayload).Messages == nil {
		t.Error("empty history should marshal as [], not null")
	}
}

func TestGetMessagesTargetMismatch(t *testing.T) {
	r, reg, _ := newTestRouter()
	alice := newFakeConn(1, types.RoleStudent, "Alice")
	reg.Register(alice, nil)

	// direct without recipientId, group without groupId
	for _, payload := range []map[string]any{
		{"type": "direct"},
		{"type": "group", "recipientId": 2},
	} {
		dispatch(t, r, alice, types.EventGetMessages, payload)
		errEvt := alice.lastEvent(types.EventError)
		if errEvt == nil || errEvt.payload.(*types.ErrorPayload).Kind != types.ErrorKindValidation {
			t.Errorf("payload %v: expected validation error, got %+v", payload, errEvt)
		}
	}
}

func TestMembershipEventsRequireManagerRole(t *testing.T) {
	r, reg, st := newTestRouter()
	student := newFakeConn(1, types.RoleStudent, "Sam")
	reg.Register(student, nil)

	events := []struct {
		name    string
		payload map[string]any
	}{
		{types.EventCreateGroup, map[string]any{"name": "g", "type": "custom"}},
		{types.EventAddGroupMembers, map[string]any{"groupId": 10, "memberIds": []int64{2}}},
		{types.EventRemoveGroupMembers, map[string]any{"groupId": 10, "memberIds": []int64{2}}},
		{types.EventAddCourseStudents, map[string]any{"groupId": 10, "courseId": 7}},
	}
	for _, tt := range events {
		dispatch(t, r, student, tt.name, tt.payload)
		errEvt := student.lastEvent(types.EventError)
		if errEvt == nil {
			t.Fatalf("%s: expected error event", tt.name)
		}
		if errEvt.payload.(*types.ErrorPayload).Kind != types.ErrorKindAuthorization {
			t.Errorf("%s: expected authorization kind, got %+v", tt.name, errEvt.payload)
		}
	}
	if len(st.groups) != 0 {
		t.Error("rejected membership events must not mutate persistence")
	}
}

func TestCreateGroupNotifiesOnlineMembers(t *testing.T) {
	r, reg, _ := newTestRouter()
	teacher := newFakeConn(1, types.RoleTeacher, "T")
	online := newFakeConn(7, types.RoleStudent, "S7")
	reg.Register(teacher, nil)
	reg.Register(online, nil)

	// member 9 is offline
	dispatch(t, r, teacher, types.EventCreateGroup, map[string]any{
		"name": "Math", "type": "class", "memberIds": []int64{7, 9},
	})

	ack := teacher.lastEvent(types.EventGroupCreated)
	if ack == nil {
		t.Fatal("creator missing group_created")
	}
	g := ack.payload.(*types.Group)
	if g.Name != "Math" || len(g.Members) != 3 {
		t.Errorf("unexpected group: %+v", g)
	}
	if teacher.lastEvent(types.EventGroupJoined) != nil {
		t.Error("creator gets the ack, not group_joined")
	}

	joined := online.lastEvent(types.EventGroupJoined)
	if joined == nil {
		t.Fatal("online member missing group_joined")
	}
	if joined.payload.(*types.Group).ID != g.ID {
		t.Error("group_joined should carry the new group")
	}

	// All online members are live in the new room.
	if !reg.IsSubscribed(1, g.ID) || !reg.IsSubscribed(7, g.ID) {
		t.Error("online members should be subscribed to the new room")
	}
	if reg.IsSubscribed(9, g.ID) {
		t.Error("offline member cannot hold a live subscription")
	}
}

func TestAddMembersIdempotentNotification(t *testing.T) {
	r, reg, _ := newTestRouter()
	teacher := newFakeConn(1, types.RoleTeacher, "T")
	student := newFakeConn(2, types.RoleStudent, "S")
	reg.Register(teacher, nil)
	reg.Register(student, nil)

	dispatch(t, r, teacher, types.EventCreateGroup, map[string]any{"name": "g", "type": "custom"})
	groupID := teacher.lastEvent(types.EventGroupCreated).payload.(*types.Group).ID

	payload := map[string]any{"groupId": groupID, "memberIds": []int64{2}}
	dispatch(t, r, teacher, types.EventAddGroupMembers, payload)
	dispatch(t, r, teacher, types.EventAddGroupMembers, payload)

	if got := student.countEvents(types.EventGroupJoined); got != 1 {
		t.Errorf("expected exactly one group_joined for a repeated add, got %d", got)
	}
	if got := teacher.countEvents(types.EventMembersAdded); got != 2 {
		t.Errorf("expected members_added broadcast per request, got %d", got)
	}
}

func TestRemoveMembers(t *testing.T) {
	r, reg, st := newTestRouter()
	teacher := newFakeConn(1, types.RoleTeacher, "T")
	student := newFakeConn(2, types.RoleStudent, "S")
	reg.Register(teacher, nil)
	reg.Register(student, nil)

	dispatch(t, r, teacher, types.EventCreateGroup, map[string]any{"name": "g", "type": "custom", "memberIds": []int64{2}})
	groupID := teacher.lastEvent(types.EventGroupCreated).payload.(*types.Group).ID

	dispatch(t, r, teacher, types.EventRemoveGroupMembers, map[string]any{"groupId": groupID, "memberIds": []int64{2}})

	left := student.lastEvent(types.EventGroupLeft)
	if left == nil {
		t.Fatal("removed member missing group_left")
	}
	if left.payload.(*types.GroupLeftPayload).GroupID != groupID {
		t.Errorf("unexpected group_left payload: %+v", left.payload)
	}
	if reg.IsSubscribed(2, groupID) {
		t.Error("removed member still subscribed")
	}
	removed := teacher.lastEvent(types.EventMembersRemoved)
	if removed == nil {
		t.Fatal("room missing members_removed")
	}
	if len(st.groups[groupID].Members) != 1 {
		t.Errorf("membership not persisted: %+v", st.groups[groupID].Members)
	}
	// The removed member lost the room before the broadcast.
	if student.lastEvent(types.EventMembersRemoved) != nil {
		t.Error("removed member should not receive the room broadcast")
	}
}

func TestAddCourseStudents(t *testing.T) {
	r, reg, st := newTestRouter()
	teacher := newFakeConn(1, types.RoleTeacher, "T")
	reg.Register(teacher, nil)

	st.enrollments[42] = []int64{11, 12, 13, 14, 15}
	online1 := newFakeConn(11, types.RoleStudent, "S11")
	online2 := newFakeConn(12, types.RoleStudent, "S12")
	reg.Register(online1, nil)
	reg.Register(online2, nil)

	dispatch(t, r, teacher, types.EventCreateGroup, map[string]any{"name": "Bio", "type": "course", "courseId": 42})
	groupID := teacher.lastEvent(types.EventGroupCreated).payload.(*types.Group).ID

	dispatch(t, r, teacher, types.EventAddCourseStudents, map[string]any{"groupId": groupID, "courseId": 42})

	for _, c := range []*fakeConn{online1, online2} {
		if c.countEvents(types.EventGroupJoined) != 1 {
			t.Errorf("online student %d should join once", c.identity.UserID)
		}
	}

	added := teacher.lastEvent(types.EventMembersAdded)
	if added == nil {
		t.Fatal("room missing members_added")
	}
	p := added.payload.(*types.MembersChangedPayload)
	if len(p.MemberIDs) != 5 {
		t.Errorf("broadcast should list the full roster, got %v", p.MemberIDs)
	}
	if p.Message != "Added 5 students from course" {
		t.Errorf("unexpected broadcast message: %q", p.Message)
	}
	if len(st.groups[groupID].Members) != 6 {
		t.Errorf("expected creator plus 5 students persisted, got %v", st.groups[groupID].Members)
	}
}

func TestUnknownEventRejected(t *testing.T) {
	r, reg, _ := newTestRouter()
	alice := newFakeConn(1, types.RoleStudent, "Alice")
	reg.Register(alice, nil)

	r.HandleEvent(context.Background(), alice, &types.Event{Event: "shutdown_server", Data: json.RawMessage(`{}`)})

	errEvt := alice.lastEvent(types.EventError)
	if errEvt == nil {
		t.Fatal("expected error event")
	}
	if errEvt.payload.(*types.ErrorPayload).Kind != types.ErrorKindValidation {
		t.Errorf("expected validation kind, got %+v", errEvt.payload)
	}
}

func TestMalformedPayloadRejected(t *testing.T) {
	r, reg, st := newTestRouter()
	alice := newFakeConn(1, types.RoleStudent, "Alice")
	reg.Register(alice, nil)

	tests := []struct {
		name string
		data string
	}{
		{"not json", `"oops`},
		{"missing content", `{"recipientId": 2}`},
		{"zero recipient", `{"recipientId": 0, "content": "hi"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r.HandleEvent(context.Background(), alice, &types.Event{
				Event: types.EventDirectMessage,
				Data:  json.RawMessage(tt.data),
			})
			errEvt := alice.lastEvent(types.EventError)
			if errEvt == nil || errEvt.payload.(*types.ErrorPayload).Kind != types.ErrorKindValidation {
				t.Errorf("expected validation error, got %+v", errEvt)
			}
		})
	}
	if len(st.direct) != 0 {
		t.Error("malformed payloads must not be persisted")
	}
}
