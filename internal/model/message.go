package model

import (
	"strings"
	"time"
)

// Message represents a chat message
type Message struct {
	ID        int64     `json:"id" msgpack:"id"`
	Username  string    `json:"username" msgpack:"username"`
	Text      string    `json:"text" msgpack:"text"`
	FileURL   string    `json:"fileUrl,omitempty" msgpack:"file_url,omitempty"`
	ReplyToID *int64    `json:"replyToId,omitempty" msgpack:"reply_to_id,omitempty"`
	CreatedAt time.Time `json:"createdAt" msgpack:"created_at"`
	Edited    bool      `json:"edited" msgpack:"edited"`
}

// HasAttachment reports whether the message references an uploaded file.
func (m Message) HasAttachment() bool {
	return strings.TrimSpace(m.FileURL) != ""
}

// HasContent reports whether the message carries text or an attachment.
func (m Message) HasContent() bool {
	return strings.TrimSpace(m.Text) != "" || m.HasAttachment()
}

// AnnotatedMessage is a message joined with its author's current avatar.
// It is computed per request and never stored.
type AnnotatedMessage struct {
	Message
	ProfileURL string `json:"profileUrl,omitempty"`
}
