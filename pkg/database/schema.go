package database

import (
	"database/sql"
	"fmt"
)

// SchemaValidator checks a live database against the structure the store expects.
// ARCHITECTURAL DISCOVERY: Separate validation component enables deployment
// verification without coupling to the migration system
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a new schema validator
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

var requiredTables = map[string]string{
	"users":             "account directory",
	"classes":           "classroom records",
	"class_members":     "class membership",
	"chat_messages":     "class chat history",
	"schema_migrations": "migration tracking",
}

var requiredIndexes = map[string]string{
	"idx_classes_created_by":      "teacher lookups",
	"idx_class_members_user":      "joined class lookups",
	"idx_chat_messages_class_time": "chat history retrieval",
}

// ValidateTablesExist verifies that all required tables exist
func (v *SchemaValidator) ValidateTablesExist() error {
	for table, description := range requiredTables {
		exists, err := v.exists("table", table)
		if err != nil {
			return fmt.Errorf("error checking table %s (%s): %w", table, description, err)
		}
		if !exists {
			return fmt.Errorf("required table %s (%s) does not exist", table, description)
		}
	}
	return nil
}

// ValidateTableStructure verifies column types match what the store scans into.
func (v *SchemaValidator) ValidateTableStructure() error {
	tables := map[string]map[string]string{
		"users": {
			"id": "TEXT", "name": "TEXT", "email": "TEXT", "avatar": "TEXT",
			"contact": "TEXT", "created_at": "DATETIME",
		},
		"classes": {
			"id": "TEXT", "name": "TEXT", "subject": "TEXT", "description": "TEXT",
			"background_image": "TEXT", "private": "INTEGER", "created_by": "TEXT",
			"created_at": "DATETIME",
		},
		"class_members": {
			"class_id": "TEXT", "user_id": "TEXT", "joined_at": "DATETIME",
		},
		"chat_messages": {
			"id": "TEXT", "class_id": "TEXT", "author_id": "TEXT", "message": "TEXT",
			"created_at": "DATETIME",
		},
	}
	for table, columns := range tables {
		if err := v.validateColumns(table, columns); err != nil {
			return fmt.Errorf("%s table structure invalid: %w", table, err)
		}
	}
	return nil
}

// ValidateIndexes verifies that all performance indexes exist
func (v *SchemaValidator) ValidateIndexes() error {
	for index, purpose := range requiredIndexes {
		exists, err := v.exists("index", index)
		if err != nil {
			return fmt.Errorf("error checking index %s (%s): %w", index, purpose, err)
		}
		if !exists {
			return fmt.Errorf("required index %s (%s) does not exist", index, purpose)
		}
	}
	return nil
}

// ValidateConstraints verifies foreign keys and checks are enforced on this connection.
// TECHNICAL DISCOVERY: sqlite ignores REFERENCES unless foreign_keys is on for
// the connection, so a missing DSN flag shows up here rather than as orphan rows
func (v *SchemaValidator) ValidateConstraints() error {
	_, err := v.db.Exec(`INSERT INTO class_members (class_id, user_id) VALUES ('schema-check-class', 'schema-check-user')`)
	if err == nil {
		_, _ = v.db.Exec(`DELETE FROM class_members WHERE class_id = 'schema-check-class'`)
		return fmt.Errorf("foreign key constraint not enforced: class_members.class_id")
	}

	_, err = v.db.Exec(`INSERT INTO users (id, name, email) VALUES ('schema-check-user', 'check', 'schema-check@invalid')`)
	if err != nil {
		return fmt.Errorf("failed to create check user: %w", err)
	}
	defer func() { _, _ = v.db.Exec(`DELETE FROM users WHERE id = 'schema-check-user'`) }()

	_, err = v.db.Exec(`INSERT INTO classes (id, name, private, created_by) VALUES ('schema-check-class', 'check', 7, 'schema-check-user')`)
	if err == nil {
		_, _ = v.db.Exec(`DELETE FROM classes WHERE id = 'schema-check-class'`)
		return fmt.Errorf("check constraint not enforced: classes.private")
	}
	return nil
}

func (v *SchemaValidator) exists(kind, name string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?",
		kind, name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (v *SchemaValidator) validateColumns(tableName string, expectedColumns map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	found := make(map[string]string)
	for rows.Next() {
		var (
			cid          int
			name, typ    string
			notNull, pk  int
			defaultValue any
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		found[name] = typ
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for col, want := range expectedColumns {
		got, ok := found[col]
		if !ok {
			return fmt.Errorf("column %s not found", col)
		}
		if got != want {
			return fmt.Errorf("column %s has type %s, expected %s", col, got, want)
		}
	}
	return nil
}
