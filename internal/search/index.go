package search

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/blugelabs/bluge"

	"groupchat/internal/model"
)

const (
	fieldText     = "text"
	fieldUsername = "username"
	idField       = "_id"
)

// Index is a full-text index over message text backed by bluge. It only
// stores ids; results are resolved against the message store by the caller.
type Index struct {
	writer *bluge.Writer
}

// Open opens the index at path, or an in-memory index when path is empty.
func Open(path string) (*Index, error) {
	cfg := bluge.InMemoryOnlyConfig()
	if path != "" {
		cfg = bluge.DefaultConfig(path)
	}
	writer, err := bluge.OpenWriter(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open bluge writer: %w", err)
	}
	return &Index{writer: writer}, nil
}

func document(msg model.Message) *bluge.Document {
	return bluge.NewDocument(strconv.FormatInt(msg.ID, 10)).
		AddField(bluge.NewTextField(fieldText, msg.Text)).
		AddField(bluge.NewKeywordField(fieldUsername, msg.Username))
}

// Index adds or replaces msg in the index.
func (i *Index) Index(msg model.Message) error {
	doc := document(msg)
	return i.writer.Update(doc.ID(), doc)
}

// Remove drops the message with id from the index.
func (i *Index) Remove(id int64) error {
	return i.writer.Delete(bluge.Identifier(strconv.FormatInt(id, 10)))
}

// Rebuild replaces the whole index with messages in one batch. It is run at
// startup so the index agrees with the store even when it persists on disk.
func (i *Index) Rebuild(messages []model.Message) error {
	stale, err := i.allIDs(context.Background())
	if err != nil {
		return err
	}

	batch := bluge.NewBatch()
	for _, id := range stale {
		batch.Delete(bluge.Identifier(strconv.FormatInt(id, 10)))
	}
	for _, msg := range messages {
		doc := document(msg)
		batch.Update(doc.ID(), doc)
	}
	return i.writer.Batch(batch)
}

// Search returns up to limit ids of messages whose text matches query, in
// ascending id order.
func (i *Index) Search(ctx context.Context, query string, limit int) ([]int64, error) {
	query = strings.TrimSpace(query)
	if query == "" || limit <= 0 {
		return []int64{}, nil
	}
	return i.ids(ctx, bluge.NewTopNSearch(limit, bluge.NewMatchQuery(query).SetField(fieldText)))
}

func (i *Index) allIDs(ctx context.Context) ([]int64, error) {
	return i.ids(ctx, bluge.NewAllMatches(bluge.NewMatchAllQuery()))
}

func (i *Index) ids(ctx context.Context, request bluge.SearchRequest) ([]int64, error) {
	reader, err := i.writer.Reader()
	if err != nil {
		return nil, fmt.Errorf("open index reader: %w", err)
	}
	defer reader.Close()

	matches, err := reader.Search(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}

	ids := []int64{}
	match, err := matches.Next()
	for err == nil && match != nil {
		var visitErr error
		err = match.VisitStoredFields(func(field string, value []byte) bool {
			if field != idField {
				return true
			}
			id, perr := strconv.ParseInt(string(value), 10, 64)
			if perr != nil {
				visitErr = perr
				return false
			}
			ids = append(ids, id)
			return false
		})
		if err == nil {
			err = visitErr
		}
		if err != nil {
			break
		}
		match, err = matches.Next()
	}
	if err != nil {
		return nil, fmt.Errorf("read search results: %w", err)
	}

	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
	return ids, nil
}

// Close flushes and closes the index.
func (i *Index) Close() error {
	return i.writer.Close()
}
