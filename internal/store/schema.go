package store

// Schema statements per driver. Both dialects share table and column
// names so every query in this package can be written once with $n
// placeholders; only id generation and timestamp types differ.

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		email TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'student' CHECK (role IN ('admin','teacher','student')),
		password_hash TEXT NOT NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS chat_groups (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		kind TEXT NOT NULL CHECK (kind IN ('course','section','class','custom')),
		course_id INTEGER,
		created_by INTEGER NOT NULL REFERENCES users(id),
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS chat_group_members (
		group_id INTEGER NOT NULL REFERENCES chat_groups(id) ON DELETE CASCADE,
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		member_role TEXT NOT NULL DEFAULT 'member',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		joined_at DATETIME NOT NULL,
		left_at DATETIME,
		PRIMARY KEY (group_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS direct_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		from_user_id INTEGER NOT NULL REFERENCES users(id),
		to_user_id INTEGER NOT NULL REFERENCES users(id),
		content TEXT NOT NULL,
		is_read BOOLEAN NOT NULL DEFAULT FALSE,
		read_at DATETIME,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS group_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		group_id INTEGER NOT NULL REFERENCES chat_groups(id) ON DELETE CASCADE,
		sender_id INTEGER NOT NULL REFERENCES users(id),
		content TEXT NOT NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS enrollments (
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		course_id INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		enrolled_at DATETIME NOT NULL,
		PRIMARY KEY (user_id, course_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_direct_messages_pair
		ON direct_messages (from_user_id, to_user_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_direct_messages_unread
		ON direct_messages (to_user_id, is_read)`,
	`CREATE INDEX IF NOT EXISTS idx_group_messages_group
		ON group_messages (group_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_group_members_user
		ON chat_group_members (user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_enrollments_course
		ON enrollments (course_id, status)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'student' CHECK (role IN ('admin','teacher','student')),
		password_hash TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS chat_groups (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		kind TEXT NOT NULL CHECK (kind IN ('course','section','class','custom')),
		course_id BIGINT,
		created_by BIGINT NOT NULL REFERENCES users(id),
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS chat_group_members (
		group_id BIGINT NOT NULL REFERENCES chat_groups(id) ON DELETE CASCADE,
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		member_role TEXT NOT NULL DEFAULT 'member',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		joined_at TIMESTAMPTZ NOT NULL,
		left_at TIMESTAMPTZ,
		PRIMARY KEY (group_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS direct_messages (
		id BIGSERIAL PRIMARY KEY,
		from_user_id BIGINT NOT NULL REFERENCES users(id),
		to_user_id BIGINT NOT NULL REFERENCES users(id),
		content TEXT NOT NULL,
		is_read BOOLEAN NOT NULL DEFAULT FALSE,
		read_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS group_messages (
		id BIGSERIAL PRIMARY KEY,
		group_id BIGINT NOT NULL REFERENCES chat_groups(id) ON DELETE CASCADE,
		sender_id BIGINT NOT NULL REFERENCES users(id),
		content TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS enrollments (
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		course_id BIGINT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		enrolled_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (user_id, course_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_direct_messages_pair
		ON direct_messages (from_user_id, to_user_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_direct_messages_unread
		ON direct_messages (to_user_id, is_read)`,
	`CREATE INDEX IF NOT EXISTS idx_group_messages_group
		ON group_messages (group_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_group_members_user
		ON chat_group_members (user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_enrollments_course
		ON enrollments (course_id, status)`,
}

// SchemaStatements returns the migration statements for a driver name.
func SchemaStatements(driver string) ([]string, error) {
	switch driver {
	case DriverSQLite:
		return sqliteSchema, nil
	case DriverPostgres:
		return postgresSchema, nil
	default:
		return nil, ErrUnknownDriver
	}
}
