package model

import "encoding/json"

// Server → client frame types.
const (
	TypeInitialMessages = "initial_messages"
	TypeNewMessage      = "new_message"
	TypeMessageUpdated  = "message_updated"
	TypeMessageDeleted  = "message_deleted"
	TypeOnlineUsers     = "online_users"
	TypeLoginSuccess    = "login_success"
	TypeError           = "error"
)

// Client → server frame types.
const (
	TypeLogin         = "login"
	TypeEditMessage   = "edit_message"
	TypeDeleteMessage = "delete_message"
	TypeLogout        = "logout"
	// new_message is shared with the server → client direction.
)

// Frame is the {type, data} envelope sent to clients.
type Frame struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// InboundFrame is the {type, data} envelope received from clients. Data is
// decoded later, once the type is known.
type InboundFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// DeletedPayload is the data of a message_deleted frame.
type DeletedPayload struct {
	ID int64 `json:"id"`
}

// LoginPayload is the data of a login_success frame.
type LoginPayload struct {
	Username string `json:"username"`
}

// ErrorPayload is the data of an error frame.
type ErrorPayload struct {
	Reason string `json:"reason"`
}
