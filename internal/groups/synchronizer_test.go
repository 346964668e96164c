package groups

import (
	"context"
	"errors"
	"sync"
	"testing"

	"schoolchat/internal/registry"
	"schoolchat/pkg/types"
)

type fakeConn struct {
	id       string
	identity types.Identity

	mu     sync.Mutex
	events []string
}

func (c *fakeConn) ConnectionID() string     { return c.id }
func (c *fakeConn) Identity() types.Identity { return c.identity }
func (c *fakeConn) Close() error             { return nil }

func (c *fakeConn) SendEvent(name string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, name)
	return nil
}

func (c *fakeConn) count(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.events {
		if e == name {
			n++
		}
	}
	return n
}

type stubStore struct {
	createErr error
	getErr    error
	group     *types.Group
	roster    []int64
}

func (s *stubStore) CreateGroup(context.Context, string, types.GroupKind, *int64, int64, []int64) (*types.Group, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	return s.group, nil
}

func (s *stubStore) GetGroup(context.Context, int64) (*types.Group, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.group, nil
}

func (s *stubStore) AddGroupMembers(context.Context, int64, []int64) error    { return nil }
func (s *stubStore) RemoveGroupMembers(context.Context, int64, []int64) error { return nil }
func (s *stubStore) ListCourseEnrollments(context.Context, int64) ([]int64, error) {
	return s.roster, nil
}

func TestCreateGroupPropagatesStoreError(t *testing.T) {
	reg := registry.NewRegistry()
	syncer := NewSynchronizer(reg, &stubStore{createErr: errors.New("boom")})
	actor := &fakeConn{id: "c1", identity: types.Identity{UserID: 1, Role: types.RoleTeacher}}
	reg.Register(actor, nil)

	err := syncer.CreateGroup(context.Background(), actor, &types.CreateGroupPayload{Name: "g", Kind: types.GroupKindCustom})
	if err == nil {
		t.Fatal("expected error")
	}
	if actor.count(types.EventGroupCreated) != 0 {
		t.Error("failed create must not acknowledge")
	}
}

func TestAddMembersFailsWhenGroupVanishes(t *testing.T) {
	reg := registry.NewRegistry()
	syncer := NewSynchronizer(reg, &stubStore{getErr: errors.New("gone")})

	if err := syncer.AddMembers(context.Background(), 10, []int64{2}); err == nil {
		t.Fatal("expected error when the group cannot be reloaded")
	}
}

func TestRemoveMembersSkipsOfflineUsers(t *testing.T) {
	reg := registry.NewRegistry()
	syncer := NewSynchronizer(reg, &stubStore{group: &types.Group{ID: 10}})
	member := &fakeConn{id: "c2", identity: types.Identity{UserID: 2, Role: types.RoleStudent}}
	reg.Register(member, []int64{10})

	// User 3 is offline; only the online member gets group_left.
	if err := syncer.RemoveMembers(context.Background(), 10, []int64{2, 3}); err != nil {
		t.Fatalf("remove members: %v", err)
	}
	if member.count(types.EventGroupLeft) != 1 {
		t.Errorf("online member should receive group_left once, got %d", member.count(types.EventGroupLeft))
	}
	if reg.IsSubscribed(2, 10) {
		t.Error("removed member still subscribed")
	}
}
