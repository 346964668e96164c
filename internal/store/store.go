package store

import (
	"context"

	"schoolchat/pkg/types"
)

// Store is the persistence collaborator for the realtime layer: durable
// messages, groups, memberships, enrollments, and the account lookups the
// login endpoint needs. The realtime packages each consume the narrow
// slice they declare locally; Manager satisfies all of them.
type Store interface {
	SaveDirectMessage(ctx context.Context, fromID, toID int64, content string) (int64, error)
	SaveGroupMessage(ctx context.Context, groupID, senderID int64, content string) (int64, error)
	ListDirectMessages(ctx context.Context, userID, peerID int64, limit int, before int64) ([]*types.Message, error)
	ListGroupMessages(ctx context.Context, groupID int64, limit int, before int64) ([]*types.Message, error)
	MarkMessagesRead(ctx context.Context, messageIDs []int64, readerID int64) error

	CreateGroup(ctx context.Context, name string, kind types.GroupKind, courseID *int64, createdBy int64, memberIDs []int64) (*types.Group, error)
	GetGroup(ctx context.Context, groupID int64) (*types.Group, error)
	ListUserGroups(ctx context.Context, userID int64) ([]*types.Group, error)
	AddGroupMembers(ctx context.Context, groupID int64, memberIDs []int64) error
	RemoveGroupMembers(ctx context.Context, groupID int64, memberIDs []int64) error

	ListCourseEnrollments(ctx context.Context, courseID int64) ([]int64, error)
	AddEnrollment(ctx context.Context, userID, courseID int64) error

	CreateUser(ctx context.Context, u *types.User) (int64, error)
	GetUser(ctx context.Context, id int64) (*types.User, error)
	GetUserByEmail(ctx context.Context, email string) (*types.User, error)

	HealthCheck(ctx context.Context) error
	Close() error
}
