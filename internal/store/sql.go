package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"groupchat/internal/model"
)

// SQLStore keeps messages and users in MySQL/MariaDB or SQLite through
// database/sql. Both drivers accept "?" placeholders, so only the DDL differs.
type SQLStore struct {
	db     *sql.DB
	driver string
	clock  *idClock
}

var schemas = map[string][]string{
	"mysql": {
		`CREATE TABLE IF NOT EXISTS messages (
			id BIGINT PRIMARY KEY,
			username VARCHAR(255) NOT NULL,
			body TEXT NOT NULL,
			file_url TEXT NOT NULL,
			reply_to_id BIGINT NULL,
			created_at BIGINT NOT NULL,
			edited BOOLEAN NOT NULL DEFAULT FALSE
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
		`CREATE TABLE IF NOT EXISTS users (
			username VARCHAR(255) PRIMARY KEY,
			profile_url TEXT NOT NULL
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	},
	"sqlite3": {
		`CREATE TABLE IF NOT EXISTS messages (
			id BIGINT PRIMARY KEY,
			username VARCHAR(255) NOT NULL,
			body TEXT NOT NULL,
			file_url TEXT NOT NULL,
			reply_to_id BIGINT NULL,
			created_at BIGINT NOT NULL,
			edited BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			username VARCHAR(255) PRIMARY KEY,
			profile_url TEXT NOT NULL
		)`,
	},
}

const selectMessage = "SELECT id, username, body, file_url, reply_to_id, created_at, edited FROM messages"

// NewSQLStore creates the tables if needed and seeds the id clock.
func NewSQLStore(ctx context.Context, db *sql.DB, driver string) (*SQLStore, error) {
	stmts, ok := schemas[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, persistence("create schema", err)
		}
	}

	var last int64
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(id), 0) FROM messages").Scan(&last); err != nil {
		return nil, persistence("seed id clock", err)
	}
	return &SQLStore{db: db, driver: driver, clock: newIDClock(last)}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (model.Message, error) {
	var (
		msg       model.Message
		replyTo   sql.NullInt64
		createdAt int64
	)
	if err := row.Scan(&msg.ID, &msg.Username, &msg.Text, &msg.FileURL, &replyTo, &createdAt, &msg.Edited); err != nil {
		return model.Message{}, err
	}
	if replyTo.Valid {
		v := replyTo.Int64
		msg.ReplyToID = &v
	}
	msg.CreatedAt = time.UnixMilli(createdAt).UTC()
	return msg, nil
}

// Append assigns an id and creation time and inserts the message.
func (s *SQLStore) Append(ctx context.Context, candidate model.Message) (model.Message, error) {
	if err := validateCandidate(candidate); err != nil {
		return model.Message{}, err
	}

	msg := candidate
	msg.ID, msg.CreatedAt = s.clock.next()
	msg.Edited = false

	var replyTo sql.NullInt64
	if msg.ReplyToID != nil {
		replyTo = sql.NullInt64{Int64: *msg.ReplyToID, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO messages (id, username, body, file_url, reply_to_id, created_at, edited) VALUES (?, ?, ?, ?, ?, ?, ?)",
		msg.ID, msg.Username, msg.Text, msg.FileURL, replyTo, msg.CreatedAt.UnixMilli(), false)
	if err != nil {
		return model.Message{}, persistence("append message", err)
	}
	return msg, nil
}

// Update replaces the text of an existing message and marks it edited.
func (s *SQLStore) Update(ctx context.Context, id int64, text string) (model.Message, error) {
	var msg model.Message
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		current, err := scanMessage(tx.QueryRowContext(ctx, selectMessage+" WHERE id = ?", id))
		if errors.Is(err, sql.ErrNoRows) {
			return errMissing
		}
		if err != nil {
			return err
		}
		current.Text = text
		if !current.HasContent() {
			return errTextRequired
		}
		current.Edited = true

		if _, err := tx.ExecContext(ctx, "UPDATE messages SET body = ?, edited = ? WHERE id = ?", text, true, id); err != nil {
			return err
		}
		msg = current
		return nil
	})
	if err != nil {
		return model.Message{}, classify(id, "update message", err)
	}
	return msg, nil
}

// Remove deletes a message and returns the removed record.
func (s *SQLStore) Remove(ctx context.Context, id int64) (model.Message, error) {
	var msg model.Message
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		current, err := scanMessage(tx.QueryRowContext(ctx, selectMessage+" WHERE id = ?", id))
		if errors.Is(err, sql.ErrNoRows) {
			return errMissing
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE id = ?", id); err != nil {
			return err
		}
		msg = current
		return nil
	})
	if err != nil {
		return model.Message{}, classify(id, "remove message", err)
	}
	return msg, nil
}

// List returns every message in ascending id order.
func (s *SQLStore) List(ctx context.Context) ([]model.Message, error) {
	rows, err := s.db.QueryContext(ctx, selectMessage+" ORDER BY id ASC")
	if err != nil {
		return nil, persistence("list messages", err)
	}
	defer rows.Close()

	messages := []model.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, persistence("scan message", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence("list messages", err)
	}
	return messages, nil
}

// TouchUser creates the user record if it does not exist yet.
func (s *SQLStore) TouchUser(ctx context.Context, username string) (model.User, error) {
	return s.SaveUser(ctx, model.User{Username: username})
}

// SaveUser creates or updates a user. An empty ProfileURL keeps the stored one.
func (s *SQLStore) SaveUser(ctx context.Context, user model.User) (model.User, error) {
	if err := validateUsername(user.Username); err != nil {
		return model.User{}, err
	}

	saved := user
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var existing string
		err := tx.QueryRowContext(ctx, "SELECT profile_url FROM users WHERE username = ?", user.Username).Scan(&existing)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			_, err = tx.ExecContext(ctx, "INSERT INTO users (username, profile_url) VALUES (?, ?)", user.Username, user.ProfileURL)
			return err
		case err != nil:
			return err
		}

		if saved.ProfileURL == "" {
			saved.ProfileURL = existing
			return nil
		}
		_, err = tx.ExecContext(ctx, "UPDATE users SET profile_url = ? WHERE username = ?", saved.ProfileURL, user.Username)
		return err
	})
	if err != nil {
		return model.User{}, persistence("save user", err)
	}
	return saved, nil
}

// Users returns every known user sorted by username.
func (s *SQLStore) Users(ctx context.Context) ([]model.User, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT username, profile_url FROM users ORDER BY username ASC")
	if err != nil {
		return nil, persistence("list users", err)
	}
	defer rows.Close()

	users := []model.User{}
	for rows.Next() {
		var user model.User
		if err := rows.Scan(&user.Username, &user.ProfileURL); err != nil {
			return nil, persistence("scan user", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence("list users", err)
	}
	return users, nil
}

// Close closes the underlying database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
