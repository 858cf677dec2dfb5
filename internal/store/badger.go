package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"groupchat/internal/model"
)

const (
	messagePrefix = "msg:"
	userPrefix    = "user:"
)

// BadgerStore keeps messages and users in BadgerDB.
//
// Message keys are "msg:{id}" with the id zero padded to 19 digits, so a
// prefix scan returns the log in chronological order. Values are msgpack.
type BadgerStore struct {
	db    *badger.DB
	clock *idClock
}

// OpenBadger opens (or creates) a BadgerDB at path with synchronous writes.
// An empty path opens an in-memory database.
func OpenBadger(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).
		WithSyncWrites(true).
		WithLoggingLevel(badger.ERROR)
	if path == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	s, err := NewBadgerStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewBadgerStore wraps an already opened database and seeds the id clock
// from the newest stored message.
func NewBadgerStore(db *badger.DB) (*BadgerStore, error) {
	last, err := lastMessageID(db)
	if err != nil {
		return nil, persistence("seed id clock", err)
	}
	return &BadgerStore{db: db, clock: newIDClock(last)}, nil
}

func messageKey(id int64) []byte {
	return []byte(fmt.Sprintf("%s%019d", messagePrefix, id))
}

func userKey(username string) []byte {
	return []byte(userPrefix + username)
}

func lastMessageID(db *badger.DB) (int64, error) {
	var last int64
	err := db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(messagePrefix)
		// Seek past every padded id, then step back onto the newest one.
		it.Seek(append([]byte(messagePrefix), 0xff))
		if !it.ValidForPrefix(prefix) {
			return nil
		}
		id, err := strconv.ParseInt(string(it.Item().Key()[len(prefix):]), 10, 64)
		if err != nil {
			return err
		}
		last = id
		return nil
	})
	return last, err
}

// Append assigns an id and creation time and persists the message.
func (s *BadgerStore) Append(_ context.Context, candidate model.Message) (model.Message, error) {
	if err := validateCandidate(candidate); err != nil {
		return model.Message{}, err
	}

	msg := candidate
	msg.ID, msg.CreatedAt = s.clock.next()
	msg.Edited = false

	data, err := msgpack.Marshal(&msg)
	if err != nil {
		return model.Message{}, persistence("encode message", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(messageKey(msg.ID), data)
	})
	if err != nil {
		return model.Message{}, persistence("append message", err)
	}
	return msg, nil
}

// Update replaces the text of an existing message and marks it edited.
func (s *BadgerStore) Update(_ context.Context, id int64, text string) (model.Message, error) {
	var msg model.Message
	err := s.db.Update(func(txn *badger.Txn) error {
		current, err := getMessage(txn, id)
		if err != nil {
			return err
		}
		current.Text = text
		if !current.HasContent() {
			return errTextRequired
		}
		current.Edited = true

		data, err := msgpack.Marshal(&current)
		if err != nil {
			return err
		}
		if err := txn.Set(messageKey(id), data); err != nil {
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
func (s *BadgerStore) Remove(_ context.Context, id int64) (model.Message, error) {
	var msg model.Message
	err := s.db.Update(func(txn *badger.Txn) error {
		current, err := getMessage(txn, id)
		if err != nil {
			return err
		}
		msg = current
		return txn.Delete(messageKey(id))
	})
	if err != nil {
		return model.Message{}, classify(id, "remove message", err)
	}
	return msg, nil
}

// List returns every message in ascending id order.
func (s *BadgerStore) List(_ context.Context) ([]model.Message, error) {
	messages := []model.Message{}
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(messagePrefix)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var msg model.Message
			err := it.Item().Value(func(val []byte) error {
				return decodeMessage(val, &msg)
			})
			if err != nil {
				return err
			}
			messages = append(messages, msg)
		}
		return nil
	})
	if err != nil {
		return nil, persistence("list messages", err)
	}
	return messages, nil
}

// TouchUser creates the user record if it does not exist yet.
func (s *BadgerStore) TouchUser(ctx context.Context, username string) (model.User, error) {
	return s.SaveUser(ctx, model.User{Username: username})
}

// SaveUser creates or updates a user. An empty ProfileURL keeps the stored one.
func (s *BadgerStore) SaveUser(_ context.Context, user model.User) (model.User, error) {
	if err := validateUsername(user.Username); err != nil {
		return model.User{}, err
	}

	var saved model.User
	err := s.db.Update(func(txn *badger.Txn) error {
		saved = user
		item, err := txn.Get(userKey(user.Username))
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			var existing model.User
			if err := item.Value(func(val []byte) error {
				return msgpack.Unmarshal(val, &existing)
			}); err != nil {
				return err
			}
			if saved.ProfileURL == "" {
				saved.ProfileURL = existing.ProfileURL
			}
			if saved == existing {
				return nil
			}
		}

		data, err := msgpack.Marshal(&saved)
		if err != nil {
			return err
		}
		return txn.Set(userKey(user.Username), data)
	})
	if err != nil {
		return model.User{}, persistence("save user", err)
	}
	return saved, nil
}

// Users returns every known user sorted by username.
func (s *BadgerStore) Users(_ context.Context) ([]model.User, error) {
	users := []model.User{}
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(userPrefix)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var user model.User
			if err := it.Item().Value(func(val []byte) error {
				return msgpack.Unmarshal(val, &user)
			}); err != nil {
				return err
			}
			users = append(users, user)
		}
		return nil
	})
	if err != nil {
		return nil, persistence("list users", err)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

// Close releases the database lock and flushes pending writes.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func getMessage(txn *badger.Txn, id int64) (model.Message, error) {
	var msg model.Message
	item, err := txn.Get(messageKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return msg, errMissing
		}
		return msg, err
	}
	err = item.Value(func(val []byte) error {
		return decodeMessage(val, &msg)
	})
	return msg, err
}

func decodeMessage(val []byte, msg *model.Message) error {
	if err := msgpack.Unmarshal(val, msg); err != nil {
		return err
	}
	msg.CreatedAt = msg.CreatedAt.UTC()
	return nil
}
