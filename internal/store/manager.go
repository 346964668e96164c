package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"schoolchat/pkg/types"
)

// Supported drivers. SQLite is the default single-node deployment;
// Postgres serves installs that already run the rest of the school
// application on it.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

// Config holds connection settings for the SQL store.
type Config struct {
	Driver          string
	DSN             string
	MaxConnections  int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Manager is the SQL implementation of Store. All writes funnel through a
// single goroutine: required for SQLite write contention, harmless for
// Postgres, and it keeps one mutation in flight at a time the way the
// rest of the realtime layer assumes.
type Manager struct {
	db      *sql.DB
	driver  string
	writeCh chan writeOperation
	done    chan struct{}
	wg      sync.WaitGroup
	closed  bool
	mu      sync.RWMutex
}

type writeOperation struct {
	op     func(db *sql.DB) error
	result chan error
}

var _ Store = (*Manager)(nil)

// NewManager opens the database, applies the schema, and starts the
// write loop.
func NewManager(cfg *Config) (*Manager, error) {
	dsn := cfg.DSN
	if cfg.Driver == DriverSQLite && !strings.Contains(dsn, "?") {
		dsn += "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
	}

	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Driver, err)
	}

	maxConns := cfg.MaxConnections
	if maxConns <= 0 {
		maxConns = 10
	}
	db.SetMaxOpenConns(maxConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s store: %w", cfg.Driver, err)
	}

	m := &Manager{
		db:      db,
		driver:  cfg.Driver,
		writeCh: make(chan writeOperation, 100),
		done:    make(chan struct{}),
	}

	if err := m.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	m.wg.Add(1)
	go m.writeLoop()
	return m, nil
}

func (m *Manager) migrate(ctx context.Context) error {
	stmts, err := SchemaStatements(m.driver)
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

func (m *Manager) writeLoop() {
	defer m.wg.Done()
	for {
		select {
		case op := <-m.writeCh:
			err := op.op(m.db)
			if err != nil {
				// One retry after a short pause covers transient
				// lock contention; anything else surfaces to the caller.
				log.Printf("store: write failed, retrying: %v", err)
				time.Sleep(100 * time.Millisecond)
				err = op.op(m.db)
			}
			op.result <- err
		case <-m.done:
			return
		}
	}
}

func (m *Manager) executeWrite(op func(db *sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)
	select {
	case m.writeCh <- writeOperation{op: op, result: result}:
		return <-result
	case <-time.After(30 * time.Second):
		return ErrWriteTimeout
	case <-m.done:
		return ErrClosed
	}
}

// placeholders renders $start..$start+n-1 for IN clauses.
func placeholders(start, n int) string {
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = "$" + strconv.Itoa(start+i)
	}
	return strings.Join(parts, ",")
}

// --- messages ---

func (m *Manager) SaveDirectMessage(ctx context.Context, fromID, toID int64, content string) (int64, error) {
	var id int64
	err := m.executeWrite(func(db *sql.DB) error {
		return db.QueryRowContext(ctx,
			`INSERT INTO direct_messages (from_user_id, to_user_id, content, created_at)
			 VALUES ($1, $2, $3, $4) RETURNING id`,
			fromID, toID, content, time.Now().UTC()).Scan(&id)
	})
	return id, err
}

func (m *Manager) SaveGroupMessage(ctx context.Context, groupID, senderID int64, content string) (int64, error) {
	var id int64
	err := m.executeWrite(func(db *sql.DB) error {
		return db.QueryRowContext(ctx,
			`INSERT INTO group_messages (group_id, sender_id, content, created_at)
			 VALUES ($1, $2, $3, $4) RETURNING id`,
			groupID, senderID, content, time.Now().UTC()).Scan(&id)
	})
	return id, err
}

func (m *Manager) ListDirectMessages(ctx context.Context, userID, peerID int64, limit int, before int64) ([]*types.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := m.db.QueryContext(ctx,
		`SELECT m.id, m.from_user_id, m.to_user_id, m.content, m.is_read, m.created_at, u.name
		 FROM direct_messages m
		 JOIN users u ON u.id = m.from_user_id
		 WHERE ((m.from_user_id = $1 AND m.to_user_id = $2)
		     OR (m.from_user_id = $2 AND m.to_user_id = $1))
		   AND ($3 = 0 OR m.id < $3)
		 ORDER BY m.created_at DESC, m.id DESC
		 LIMIT $4`,
		userID, peerID, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list direct messages: %w", err)
	}
	defer rows.Close()

	var messages []*types.Message
	for rows.Next() {
		msg := &types.Message{Type: types.MessageTypeDirect}
		var toID int64
		if err := rows.Scan(&msg.ID, &msg.SenderID, &toID, &msg.Content, &msg.Read, &msg.Timestamp, &msg.SenderName); err != nil {
			return nil, err
		}
		msg.RecipientID = &toID
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (m *Manager) ListGroupMessages(ctx context.Context, groupID int64, limit int, before int64) ([]*types.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := m.db.QueryContext(ctx,
		`SELECT m.id, m.group_id, m.sender_id, m.content, m.created_at, u.name
		 FROM group_messages m
		 JOIN users u ON u.id = m.sender_id
		 WHERE m.group_id = $1 AND ($2 = 0 OR m.id < $2)
		 ORDER BY m.created_at DESC, m.id DESC
		 LIMIT $3`,
		groupID, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list group messages: %w", err)
	}
	defer rows.Close()

	var messages []*types.Message
	for rows.Next() {
		msg := &types.Message{Type: types.MessageTypeGroup}
		var gid int64
		if err := rows.Scan(&msg.ID, &gid, &msg.SenderID, &msg.Content, &msg.Timestamp, &msg.SenderName); err != nil {
			return nil, err
		}
		msg.GroupID = &gid
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// MarkMessagesRead marks direct messages read. The reader filter keeps a
// client from flipping read state on messages addressed to someone else.
func (m *Manager) MarkMessagesRead(ctx context.Context, messageIDs []int64, readerID int64) error {
	if len(messageIDs) == 0 {
		return nil
	}
	args := []any{time.Now().UTC(), readerID}
	for _, id := range messageIDs {
		args = append(args, id)
	}
	query := `UPDATE direct_messages SET is_read = TRUE, read_at = $1
		 WHERE to_user_id = $2 AND id IN (` + placeholders(3, len(messageIDs)) + `)`
	return m.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, query, args...)
		return err
	})
}

// --- groups ---

const upsertMember = `INSERT INTO chat_group_members (group_id, user_id, member_role, active, joined_at)
	 VALUES ($1, $2, $3, TRUE, $4)
	 ON CONFLICT (group_id, user_id) DO UPDATE SET active = TRUE, left_at = NULL`

func (m *Manager) CreateGroup(ctx context.Context, name string, kind types.GroupKind, courseID *int64, createdBy int64, memberIDs []int64) (*types.Group, error) {
	now := time.Now().UTC()
	var id int64
	err := m.executeWrite(func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if err := tx.QueryRowContext(ctx,
			`INSERT INTO chat_groups (name, kind, course_id, created_by, created_at)
			 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
			name, kind, courseID, createdBy, now).Scan(&id); err != nil {
			return err
		}

		// Creator joins as admin, listed members as ordinary members.
		if _, err := tx.ExecContext(ctx, upsertMember, id, createdBy, "admin", now); err != nil {
			return err
		}
		for _, memberID := range memberIDs {
			if memberID == createdBy {
				continue
			}
			if _, err := tx.ExecContext(ctx, upsertMember, id, memberID, "member", now); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, fmt.Errorf("create group: %w", err)
	}

	members := []int64{createdBy}
	for _, memberID := range memberIDs {
		if memberID != createdBy {
			members = append(members, memberID)
		}
	}
	return &types.Group{
		ID:        id,
		Name:      name,
		Kind:      kind,
		CourseID:  courseID,
		CreatedBy: createdBy,
		Members:   members,
		CreatedAt: now,
	}, nil
}

func (m *Manager) GetGroup(ctx context.Context, groupID int64) (*types.Group, error) {
	g := &types.Group{}
	var courseID sql.NullInt64
	err := m.db.QueryRowContext(ctx,
		`SELECT id, name, kind, course_id, created_by, created_at
		 FROM chat_groups WHERE id = $1`, groupID).
		Scan(&g.ID, &g.Name, &g.Kind, &courseID, &g.CreatedBy, &g.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrGroupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get group %d: %w", groupID, err)
	}
	if courseID.Valid {
		g.CourseID = &courseID.Int64
	}

	rows, err := m.db.QueryContext(ctx,
		`SELECT user_id FROM chat_group_members
		 WHERE group_id = $1 AND active = TRUE ORDER BY user_id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("get group %d members: %w", groupID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var userID int64
		if err := rows.Scan(&userID); err != nil {
			return nil, err
		}
		g.Members = append(g.Members, userID)
	}
	return g, rows.Err()
}

func (m *Manager) ListUserGroups(ctx context.Context, userID int64) ([]*types.Group, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT g.id, g.name, g.kind, g.course_id, g.created_by, g.created_at
		 FROM chat_groups g
		 JOIN chat_group_members gm ON gm.group_id = g.id
		 WHERE gm.user_id = $1 AND gm.active = TRUE
		 ORDER BY g.id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list groups for user %d: %w", userID, err)
	}
	defer rows.Close()

	var groups []*types.Group
	for rows.Next() {
		g := &types.Group{}
		var courseID sql.NullInt64
		if err := rows.Scan(&g.ID, &g.Name, &g.Kind, &courseID, &g.CreatedBy, &g.CreatedAt); err != nil {
			return nil, err
		}
		if courseID.Valid {
			g.CourseID = &courseID.Int64
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// AddGroupMembers inserts membership rows. Re-adding an inactive or
// existing member reactivates the row, so double-adds stay idempotent.
func (m *Manager) AddGroupMembers(ctx context.Context, groupID int64, memberIDs []int64) error {
	if len(memberIDs) == 0 {
		return nil
	}
	now := time.Now().UTC()
	return m.executeWrite(func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		for _, memberID := range memberIDs {
			if _, err := tx.ExecContext(ctx, upsertMember, groupID, memberID, "member", now); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// RemoveGroupMembers soft-deletes membership rows so message history
// attribution survives removal.
func (m *Manager) RemoveGroupMembers(ctx context.Context, groupID int64, memberIDs []int64) error {
	if len(memberIDs) == 0 {
		return nil
	}
	args := []any{time.Now().UTC(), groupID}
	for _, id := range memberIDs {
		args = append(args, id)
	}
	query := `UPDATE chat_group_members SET active = FALSE, left_at = $1
		 WHERE group_id = $2 AND user_id IN (` + placeholders(3, len(memberIDs)) + `)`
	return m.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, query, args...)
		return err
	})
}

// --- enrollments ---

func (m *Manager) ListCourseEnrollments(ctx context.Context, courseID int64) ([]int64, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT user_id FROM enrollments
		 WHERE course_id = $1 AND status = 'active' ORDER BY user_id`, courseID)
	if err != nil {
		return nil, fmt.Errorf("list enrollments for course %d: %w", courseID, err)
	}
	defer rows.Close()

	var userIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		userIDs = append(userIDs, id)
	}
	return userIDs, rows.Err()
}

func (m *Manager) AddEnrollment(ctx context.Context, userID, courseID int64) error {
	return m.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO enrollments (user_id, course_id, status, enrolled_at)
			 VALUES ($1, $2, 'active', $3)
			 ON CONFLICT (user_id, course_id) DO UPDATE SET status = 'active'`,
			userID, courseID, time.Now().UTC())
		return err
	})
}

// --- users ---

func (m *Manager) CreateUser(ctx context.Context, u *types.User) (int64, error) {
	var id int64
	err := m.executeWrite(func(db *sql.DB) error {
		return db.QueryRowContext(ctx,
			`INSERT INTO users (email, name, role, password_hash, created_at)
			 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
			u.Email, u.Name, u.Role, u.PasswordHash, time.Now().UTC()).Scan(&id)
	})
	if err != nil {
		return 0, fmt.Errorf("create user: %w", err)
	}
	u.ID = id
	return id, nil
}

func (m *Manager) GetUser(ctx context.Context, id int64) (*types.User, error) {
	return m.scanUser(m.db.QueryRowContext(ctx,
		`SELECT id, email, name, role, password_hash, created_at FROM users WHERE id = $1`, id))
}

func (m *Manager) GetUserByEmail(ctx context.Context, email string) (*types.User, error) {
	return m.scanUser(m.db.QueryRowContext(ctx,
		`SELECT id, email, name, role, password_hash, created_at FROM users WHERE email = $1`, email))
}

func (m *Manager) scanUser(row *sql.Row) (*types.User, error) {
	u := &types.User{}
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.PasswordHash, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return u, nil
}

// --- lifecycle ---

func (m *Manager) HealthCheck(ctx context.Context) error {
	return m.db.PingContext(ctx)
}

func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.done)
	m.wg.Wait()
	return m.db.Close()
}
