package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	"groupchat/internal/errs"
	"groupchat/internal/model"
)

// Event is a typed, validated unit of client intent. The set of events is
// closed: Login, Send, Edit, Delete and Logout.
type Event interface {
	eventType() string
}

// Login authenticates a connection under a username.
type Login struct {
	Username string `json:"username" validate:"required"`
}

// Send posts a new message. The author is the session identity; Username
// is accepted on the wire but not trusted.
type Send struct {
	Username  string `json:"username"`
	Text      string `json:"text" validate:"required_without=FileURL"`
	FileURL   string `json:"fileUrl" validate:"required_without=Text"`
	ReplyToID *int64 `json:"replyToId"`
}

// Edit replaces the text of an existing message.
type Edit struct {
	MessageID int64  `json:"messageId" validate:"required"`
	Text      string `json:"text"`
}

// Delete removes a message.
type Delete struct {
	MessageID int64 `json:"messageId" validate:"required"`
}

// Logout ends the session.
type Logout struct {
	Username string `json:"username"`
}

func (Login) eventType() string  { return model.TypeLogin }
func (Send) eventType() string   { return model.TypeNewMessage }
func (Edit) eventType() string   { return model.TypeEditMessage }
func (Delete) eventType() string { return model.TypeDeleteMessage }
func (Logout) eventType() string { return model.TypeLogout }

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ParseEvent decodes a raw {type, data} frame into a typed event.
func ParseEvent(raw []byte) (Event, error) {
	var frame model.InboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, fmt.Errorf("%w: malformed frame: %v", errs.ErrValidation, err)
	}

	switch frame.Type {
	case model.TypeLogin:
		return decode[Login](frame)
	case model.TypeNewMessage:
		return decode[Send](frame)
	case model.TypeEditMessage:
		return decode[Edit](frame)
	case model.TypeDeleteMessage:
		return decode[Delete](frame)
	case model.TypeLogout:
		return decode[Logout](frame)
	case "":
		return nil, fmt.Errorf("%w: frame type is required", errs.ErrValidation)
	default:
		return nil, fmt.Errorf("%w: unsupported frame type %q", errs.ErrValidation, frame.Type)
	}
}

func decode[T Event](frame model.InboundFrame) (T, error) {
	var ev T
	if len(frame.Data) > 0 {
		if err := json.Unmarshal(frame.Data, &ev); err != nil {
			return ev, fmt.Errorf("%w: invalid %s payload: %v", errs.ErrValidation, frame.Type, err)
		}
	}
	if err := Validate(ev); err != nil {
		return ev, err
	}
	return ev, nil
}

// Validate checks the struct tags of an event or HTTP payload.
func Validate(payload any) error {
	err := validate.Struct(payload)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", errs.ErrValidation, err)
	}
	reasons := lo.Uniq(lo.Map(verrs, func(fe validator.FieldError, _ int) string {
		switch fe.Tag() {
		case "required":
			return fe.Field() + " is required"
		case "required_without":
			return "text or fileUrl is required"
		default:
			return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
		}
	}))
	return fmt.Errorf("%w: %s", errs.ErrValidation, strings.Join(reasons, "; "))
}
