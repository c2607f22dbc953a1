// ABOUTME: Client-to-server frame decoding and validation
// ABOUTME: Accepts form-style string IDs alongside JSON numbers

package ws

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-playground/validator/v10"
)

// Frame types sent by clients.
const (
	frameSubscribe   = "subscribe"
	frameUnsubscribe = "unsubscribe"
	frameTypingStart = "typing_start"
	frameTypingStop  = "typing_stop"
	frameChatMessage = "chat_message"
	frameReaction    = "reaction"
	frameAvatar      = "avatar"
	frameStatus      = "status"
)

// ErrMalformedFrame is returned for frames that are not valid JSON objects.
var ErrMalformedFrame = errors.New("malformed frame")

var validate = validator.New()

// optionalID is a message or file ID that clients may send as a number, a
// numeric string, an empty string or null.
type optionalID int64

func (id *optionalID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*id = 0
			return nil
		}
		data = []byte(s)
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("id %q: %w", data, err)
	}
	*id = optionalID(n)
	return nil
}

func (id optionalID) ptr() *int64 {
	if id <= 0 {
		return nil
	}
	v := int64(id)
	return &v
}

type clientFrame struct {
	Type              string       `json:"type" validate:"omitempty,oneof=subscribe unsubscribe typing_start typing_stop chat_message reaction avatar status"`
	ConversationID    string       `json:"conversation_id" validate:"max=64"`
	ChatMessage       string       `json:"chat_message" validate:"max=20000"`
	ParentMessageID   optionalID   `json:"parent_message_id" validate:"gte=0"`
	ReplyType         string       `json:"reply_type" validate:"omitempty,oneof=thread quote"`
	QuotedMessageID   optionalID   `json:"quoted_message_id" validate:"gte=0"`
	AttachmentFileID  optionalID   `json:"attachment_file_id" validate:"gte=0"`
	AttachmentFileIDs []optionalID `json:"attachment_file_ids" validate:"max=10,dive,gt=0"`
	MessageID         optionalID   `json:"message_id" validate:"required_if=Type reaction,gte=0"`
	Emoji             string       `json:"emoji" validate:"required_if=Type reaction,max=32"`
	AvatarURL         string       `json:"avatar_url" validate:"omitempty,url,max=2048"`
	Status            string       `json:"status" validate:"omitempty,oneof=online away busy"`
}

// decodeFrame parses and validates one client frame.
func decodeFrame(data []byte) (*clientFrame, error) {
	var f clientFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if err := validate.Struct(&f); err != nil {
		return nil, fmt.Errorf("invalid %q frame: %w", f.Type, err)
	}
	return &f, nil
}

// attachments merges the single and list attachment fields.
func (f *clientFrame) attachments() []int64 {
	var ids []int64
	if f.AttachmentFileID > 0 {
		ids = append(ids, int64(f.AttachmentFileID))
	}
	for _, id := range f.AttachmentFileIDs {
		if int64(id) != int64(f.AttachmentFileID) {
			ids = append(ids, int64(id))
		}
	}
	return ids
}
