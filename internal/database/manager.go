package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	dbconfig "github.com/ManishKarki1997/VirtualClassroomServer/pkg/database"
	"github.com/ManishKarki1997/VirtualClassroomServer/pkg/interfaces"
	"github.com/ManishKarki1997/VirtualClassroomServer/pkg/types"
)

var _ interfaces.DatabaseManager = (*Manager)(nil)

// Manager is the sqlite directory: users, classes, membership and class chat.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	logger       *slog.Logger
	writeChannel chan writeOperation // TECHNICAL: Single-writer pattern for SQLite
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
	retryDelay   time.Duration
	writeTimeout time.Duration
	now          func() time.Time
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database and starts the writer. Call Migrate before use
// on a fresh file.
func NewManager(config *dbconfig.Config, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	if dir := filepath.Dir(config.DatabasePath); config.DatabasePath != ":memory:" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := dbconfig.ApplySQLiteOptimizations(db, config); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	m := &Manager{
		db:           db,
		config:       config,
		logger:       logger.With("component", "database"),
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
		retryDelay:   5 * time.Second,
		writeTimeout: 30 * time.Second,
		now:          func() time.Time { return time.Now().UTC() },
	}

	// ARCHITECTURAL DISCOVERY: Single-writer goroutine prevents SQLite write contention
	m.wg.Add(1)
	go m.writeLoop()

	return m, nil
}

// Migrate applies pending migrations from the embedded set, or from
// MigrationsPath when configured, and returns the versions applied.
func (m *Manager) Migrate() ([]string, error) {
	mm := dbconfig.NewMigrationManager(m.db, dbconfig.MigrationsFS(m.config.MigrationsPath))
	applied, err := mm.ApplyMigrations()
	if err != nil {
		return applied, err
	}
	if len(applied) > 0 {
		m.logger.Info("applied migrations", "versions", applied)
	}
	return applied, mm.ValidateSchema()
}

func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			// FUNCTIONAL DISCOVERY: only lock contention is worth one retry; a
			// constraint failure fails the same way twice
			if err != nil && isRetryable(err) {
				m.logger.Warn("database write contended, retrying", "delay", m.retryDelay, "err", err)
				time.Sleep(m.retryDelay)
				err = op.operation(m.db)
			}
			op.result <- err

		case <-m.shutdown:
			m.logger.Debug("database write loop shutting down")
			return
		}
	}
}

// executeWrite queues a write operation and waits for completion
func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrStoreClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)
	timeout := time.NewTimer(m.writeTimeout)
	defer timeout.Stop()

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-timeout.C:
		return ErrWriteTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return ErrStoreClosed
	}
	// Once queued the operation always reports back.
	return <-result
}

// CreateUser inserts a user, assigning an id and creation time when unset.
func (m *Manager) CreateUser(ctx context.Context, user *types.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = m.now()
	}
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO users (id, name, email, avatar, contact, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, user.ID, user.Name, user.Email, user.Avatar, user.Contact, user.CreatedAt)
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: user %s", ErrAlreadyExists, user.Email)
		}
		if err != nil {
			return fmt.Errorf("failed to insert user: %w", err)
		}
		return nil
	})
}

// GetUser retrieves a user by id
func (m *Manager) GetUser(ctx context.Context, userID string) (*types.User, error) {
	var u types.User
	err := m.db.QueryRowContext(ctx, `
		SELECT id, name, email, avatar, contact, created_at FROM users WHERE id = ?
	`, userID).Scan(&u.ID, &u.Name, &u.Email, &u.Avatar, &u.Contact, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &u, nil
}

// CreateClass inserts a class and its initial member list atomically.
func (m *Manager) CreateClass(ctx context.Context, class *types.Class) error {
	if class.ID == "" {
		class.ID = uuid.NewString()
	}
	if class.CreatedAt.IsZero() {
		class.CreatedAt = m.now()
	}
	class.Users = dedupe(class.Users)

	return m.executeWrite(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		_, err = tx.ExecContext(ctx, `
			INSERT INTO classes (id, name, subject, description, background_image, private, created_by, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, class.ID, class.Name, class.Subject, class.Description, class.BackgroundImage,
			class.Private, class.CreatedBy, class.CreatedAt)
		switch {
		case isUniqueViolation(err):
			return fmt.Errorf("%w: class %s", ErrAlreadyExists, class.ID)
		case isForeignKeyViolation(err):
			return interfaces.ErrUserNotFound
		case err != nil:
			return fmt.Errorf("failed to insert class: %w", err)
		}

		for _, userID := range class.Users {
			if err := insertMember(ctx, tx, class.ID, userID, class.CreatedAt); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

func insertMember(ctx context.Context, tx *sql.Tx, classID, userID string, at time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO class_members (class_id, user_id, joined_at) VALUES (?, ?, ?)
	`, classID, userID, at)
	if isForeignKeyViolation(err) {
		return interfaces.ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to insert member: %w", err)
	}
	return nil
}

// GetClass retrieves a class with its member ids.
func (m *Manager) GetClass(ctx context.Context, classID string) (*types.Class, error) {
	var c types.Class
	err := m.db.QueryRowContext(ctx, `
		SELECT id, name, subject, description, background_image, private, created_by, created_at
		FROM classes WHERE id = ?
	`, classID).Scan(&c.ID, &c.Name, &c.Subject, &c.Description, &c.BackgroundImage,
		&c.Private, &c.CreatedBy, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrClassNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query class: %w", err)
	}

	members, err := m.members(ctx, classID)
	if err != nil {
		return nil, err
	}
	c.Users = members
	return &c, nil
}

// JoinClass appends the user to the class member list. Joining twice is a no-op.
func (m *Manager) JoinClass(ctx context.Context, classID, userID string) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		// FUNCTIONAL DISCOVERY: a foreign key failure does not say which side is
		// missing, so both are checked first to return the precise error
		if ok, err := rowExists(ctx, tx, "SELECT 1 FROM classes WHERE id = ?", classID); err != nil {
			return err
		} else if !ok {
			return interfaces.ErrClassNotFound
		}
		if ok, err := rowExists(ctx, tx, "SELECT 1 FROM users WHERE id = ?", userID); err != nil {
			return err
		} else if !ok {
			return interfaces.ErrUserNotFound
		}

		if err := insertMember(ctx, tx, classID, userID, m.now()); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// ClassMembers returns member user ids in join order.
func (m *Manager) ClassMembers(ctx context.Context, classID string) ([]string, error) {
	ok, err := rowExists(ctx, m.db, "SELECT 1 FROM classes WHERE id = ?", classID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, interfaces.ErrClassNotFound
	}
	return m.members(ctx, classID)
}

func (m *Manager) members(ctx context.Context, classID string) ([]string, error) {
	return m.queryIDs(ctx, `
		SELECT user_id FROM class_members WHERE class_id = ? ORDER BY joined_at, rowid
	`, classID)
}

// JoinedClasses returns the ids of every class the user is a member of.
func (m *Manager) JoinedClasses(ctx context.Context, userID string) ([]string, error) {
	ok, err := rowExists(ctx, m.db, "SELECT 1 FROM users WHERE id = ?", userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, interfaces.ErrUserNotFound
	}
	return m.queryIDs(ctx, `
		SELECT class_id FROM class_members WHERE user_id = ? ORDER BY joined_at, rowid
	`, userID)
}

// ClassSummary returns a class with its teacher name and member ids.
func (m *Manager) ClassSummary(ctx context.Context, classID string) (*types.ClassSummary, error) {
	var s types.ClassSummary
	err := m.db.QueryRowContext(ctx, `
		SELECT c.id, c.name, COALESCE(u.name, '')
		FROM classes c LEFT JOIN users u ON u.id = c.created_by
		WHERE c.id = ?
	`, classID).Scan(&s.ID, &s.Name, &s.TeacherName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrClassNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query class summary: %w", err)
	}

	members, err := m.members(ctx, classID)
	if err != nil {
		return nil, err
	}
	s.Members = members
	return &s, nil
}

// StoreChatMessage persists a chat message and returns it with its author populated.
func (m *Manager) StoreChatMessage(ctx context.Context, classID, authorID, message string) (*types.ChatMessage, error) {
	msg := &types.ChatMessage{
		ID:        uuid.NewString(),
		ClassID:   classID,
		Message:   message,
		CreatedAt: m.now(),
	}
	err := m.executeWrite(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if ok, err := rowExists(ctx, tx, "SELECT 1 FROM classes WHERE id = ?", classID); err != nil {
			return err
		} else if !ok {
			return interfaces.ErrClassNotFound
		}

		var author types.User
		err = tx.QueryRowContext(ctx, `
			SELECT id, name, email, avatar, contact, created_at FROM users WHERE id = ?
		`, authorID).Scan(&author.ID, &author.Name, &author.Email, &author.Avatar, &author.Contact, &author.CreatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return interfaces.ErrUserNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to query author: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chat_messages (id, class_id, author_id, message, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, msg.ID, msg.ClassID, authorID, msg.Message, msg.CreatedAt); err != nil {
			return fmt.Errorf("failed to insert chat message: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		msg.Author = &author
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// ChatHistory returns the class chat in chronological order.
func (m *Manager) ChatHistory(ctx context.Context, classID string) ([]*types.ChatMessage, error) {
	ok, err := rowExists(ctx, m.db, "SELECT 1 FROM classes WHERE id = ?", classID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, interfaces.ErrClassNotFound
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT m.id, m.class_id, m.message, m.created_at,
		       u.id, u.name, u.email, u.avatar, u.contact, u.created_at
		FROM chat_messages m JOIN users u ON u.id = m.author_id
		WHERE m.class_id = ?
		ORDER BY m.created_at, m.rowid
	`, classID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chat history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	history := []*types.ChatMessage{}
	for rows.Next() {
		var (
			msg    types.ChatMessage
			author types.User
		)
		if err := rows.Scan(&msg.ID, &msg.ClassID, &msg.Message, &msg.CreatedAt,
			&author.ID, &author.Name, &author.Email, &author.Avatar, &author.Contact, &author.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chat message: %w", err)
		}
		msg.Author = &author
		history = append(history, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chat rows: %w", err)
	}
	return history, nil
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return ErrStoreClosed
	}

	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var n int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&n); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// GetDB returns the underlying database connection for migrations
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close stops the writer and closes the database. Safe to call repeatedly.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func rowExists(ctx context.Context, q queryer, query string, arg string) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, query, arg).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("existence check failed: %w", err)
	}
	return true, nil
}

func (m *Manager) queryIDs(ctx context.Context, query string, arg string) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
