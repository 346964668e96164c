package groups

import (
	"context"
	"fmt"
	"log"

	"schoolchat/internal/registry"
	"schoolchat/pkg/types"
)

// Store is the slice of the persistence collaborator membership
// operations need.
type Store interface {
	CreateGroup(ctx context.Context, name string, kind types.GroupKind, courseID *int64, createdBy int64, memberIDs []int64) (*types.Group, error)
	GetGroup(ctx context.Context, groupID int64) (*types.Group, error)
	AddGroupMembers(ctx context.Context, groupID int64, memberIDs []int64) error
	RemoveGroupMembers(ctx context.Context, groupID int64, memberIDs []int64) error
	ListCourseEnrollments(ctx context.Context, courseID int64) ([]int64, error)
}

// Synchronizer keeps live room subscriptions consistent with authoritative
// group membership. After each operation every connected affected user is
// joined to or removed from the room; offline users pick the change up on
// their next connect, when membership is reloaded from the store.
type Synchronizer struct {
	registry *registry.Registry
	store    Store
}

func NewSynchronizer(reg *registry.Registry, st Store) *Synchronizer {
	return &Synchronizer{registry: reg, store: st}
}

// CreateGroup persists the group with its initial member list, joins
// every online member to the new room, notifies them with group_joined,
// and acknowledges the creator with group_created.
func (s *Synchronizer) CreateGroup(ctx context.Context, actor registry.Conn, p *types.CreateGroupPayload) error {
	creatorID := actor.Identity().UserID
	group, err := s.store.CreateGroup(ctx, p.Name, p.Kind, p.CourseID, creatorID, p.MemberIDs)
	if err != nil {
		return fmt.Errorf("create group: %w", err)
	}

	for _, memberID := range group.Members {
		online, added := s.registry.JoinRoom(memberID, group.ID)
		if !online || memberID == creatorID {
			continue
		}
		if added {
			s.registry.SendToUser(memberID, types.EventGroupJoined, group)
		}
	}

	if err := actor.SendEvent(types.EventGroupCreated, group); err != nil {
		log.Printf("groups: ack group_created to user %d: %v", creatorID, err)
	}
	log.Printf("groups: created id=%d name=%q kind=%s members=%d",
		group.ID, group.Name, group.Kind, len(group.Members))
	return nil
}

// AddMembers persists membership rows, joins each newly added online
// member and pushes the full group record to them, then broadcasts
// members_added to the whole room.
func (s *Synchronizer) AddMembers(ctx context.Context, groupID int64, memberIDs []int64) error {
	if err := s.store.AddGroupMembers(ctx, groupID, memberIDs); err != nil {
		return fmt.Errorf("add members to group %d: %w", groupID, err)
	}
	group, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return fmt.Errorf("load group %d: %w", groupID, err)
	}

	s.joinAndNotify(group, memberIDs)
	s.registry.BroadcastRoom(groupID, 0, types.EventMembersAdded, &types.MembersChangedPayload{
		GroupID:   groupID,
		MemberIDs: memberIDs,
	})
	return nil
}

// RemoveMembers soft-deletes membership, revokes room subscriptions for
// removed online members with a group_left push, then broadcasts
// members_removed to the remaining room.
func (s *Synchronizer) RemoveMembers(ctx context.Context, groupID int64, memberIDs []int64) error {
	if err := s.store.RemoveGroupMembers(ctx, groupID, memberIDs); err != nil {
		return fmt.Errorf("remove members from group %d: %w", groupID, err)
	}

	for _, memberID := range memberIDs {
		if s.registry.LeaveRoom(memberID, groupID) {
			s.registry.SendToUser(memberID, types.EventGroupLeft, &types.GroupLeftPayload{GroupID: groupID})
		}
	}

	s.registry.BroadcastRoom(groupID, 0, types.EventMembersRemoved, &types.MembersChangedPayload{
		GroupID:   groupID,
		MemberIDs: memberIDs,
	})
	return nil
}

// AddCourseStudents resolves the course roster and applies the AddMembers
// sequence to it, with a human-readable count in the room broadcast.
func (s *Synchronizer) AddCourseStudents(ctx context.Context, groupID, courseID int64) error {
	studentIDs, err := s.store.ListCourseEnrollments(ctx, courseID)
	if err != nil {
		return fmt.Errorf("list enrollments for course %d: %w", courseID, err)
	}
	if err := s.store.AddGroupMembers(ctx, groupID, studentIDs); err != nil {
		return fmt.Errorf("add course %d students to group %d: %w", courseID, groupID, err)
	}
	group, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return fmt.Errorf("load group %d: %w", groupID, err)
	}

	s.joinAndNotify(group, studentIDs)
	s.registry.BroadcastRoom(groupID, 0, types.EventMembersAdded, &types.MembersChangedPayload{
		GroupID:   groupID,
		MemberIDs: studentIDs,
		Message:   fmt.Sprintf("Added %d students from course", len(studentIDs)),
	})
	return nil
}

func (s *Synchronizer) joinAndNotify(group *types.Group, memberIDs []int64) {
	for _, memberID := range memberIDs {
		online, added := s.registry.JoinRoom(memberID, group.ID)
		if online && added {
			s.registry.SendToUser(memberID, types.EventGroupJoined, group)
		}
	}
}
