package session

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

const (
	TypeAuth             = "auth"
	TypeAudio            = "audio"
	TypeChatMetadata     = "chat_metadata"
	TypeUserMessage      = "user_message"
	TypeAssistantMessage = "assistant_message"
	TypeError            = "error"
)

type AuthFrame struct {
	Type      string `json:"type"`
	APIKey    string `json:"api_key"`
	SecretKey string `json:"secret_key"`
	ConfigID  string `json:"config_id"`
}

func NewAuthFrame(c Credentials) AuthFrame {
	return AuthFrame{
		Type:      TypeAuth,
		APIKey:    c.APIKey,
		SecretKey: c.SecretKey,
		ConfigID:  c.ConfigID,
	}
}

type AudioFrame struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

func NewAudioFrame(chunk []byte) AudioFrame {
	return AudioFrame{Type: TypeAudio, Data: base64.StdEncoding.EncodeToString(chunk)}
}

func EncodeAudioFrame(chunk []byte) ([]byte, error) {
	return json.Marshal(NewAudioFrame(chunk))
}

func DecodeAudioFrame(data []byte) ([]byte, error) {
	var f AudioFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decoding audio frame: %w", err)
	}
	if f.Type != TypeAudio {
		return nil, fmt.Errorf("decoding audio frame: unexpected type %q", f.Type)
	}
	chunk, err := base64.StdEncoding.DecodeString(f.Data)
	if err != nil {
		return nil, fmt.Errorf("decoding audio frame: %w", err)
	}
	return chunk, nil
}

// Message is a decoded server event.
type Message interface {
	MessageType() string
}

type ChatMetadata struct {
	ChatID      string
	ChatGroupID string
}

type UserMessage struct {
	Content  string
	FromText *bool
	Prosody  map[string]float64
}

// FromVoice reports whether the server said explicitly that the utterance
// was spoken rather than typed.
func (m UserMessage) FromVoice() bool {
	return m.FromText != nil && !*m.FromText
}

type AssistantMessage struct {
	Content string
}

type ErrorMessage struct {
	Code    string
	Slug    string
	Message string
}

type Unknown struct {
	Type string
}

func (ChatMetadata) MessageType() string     { return TypeChatMetadata }
func (UserMessage) MessageType() string      { return TypeUserMessage }
func (AssistantMessage) MessageType() string { return TypeAssistantMessage }
func (ErrorMessage) MessageType() string     { return TypeError }
func (u Unknown) MessageType() string        { return u.Type }

// DecodeError reports a known message type missing a required field.
type DecodeError struct {
	Type  string
	Field string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("malformed %s message: missing %s", e.Type, e.Field)
}

// envelope is read first so the payload of an unrecognized type is never
// interpreted.
type envelope struct {
	Type string `json:"type"`
}

type chatMetadataFrame struct {
	ChatID      *string `json:"chat_id"`
	ChatGroupID string  `json:"chat_group_id"`
}

type chatFrame struct {
	Message  json.RawMessage `json:"message"`
	FromText *bool           `json:"from_text"`
	Models   struct {
		Prosody *struct {
			Scores map[string]float64 `json:"scores"`
		} `json:"prosody"`
	} `json:"models"`
}

type errorFrame struct {
	Code    string          `json:"code"`
	Slug    string          `json:"slug"`
	Message json.RawMessage `json:"message"`
}

type chatMessage struct {
	Role    string  `json:"role"`
	Content *string `json:"content"`
}

// Decode parses one server frame. Unrecognized types decode to Unknown
// without error, whatever the rest of the frame holds.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("undecodable message: %w", err)
	}

	switch env.Type {
	case TypeChatMetadata:
		var f chatMetadataFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("undecodable %s message: %w", env.Type, err)
		}
		if f.ChatID == nil || *f.ChatID == "" {
			return nil, &DecodeError{Type: env.Type, Field: "chat_id"}
		}
		return ChatMetadata{ChatID: *f.ChatID, ChatGroupID: f.ChatGroupID}, nil

	case TypeUserMessage, TypeAssistantMessage:
		var f chatFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("undecodable %s message: %w", env.Type, err)
		}
		content, ok := messageContent(f.Message)
		if !ok {
			return nil, &DecodeError{Type: env.Type, Field: "message.content"}
		}
		if env.Type == TypeAssistantMessage {
			return AssistantMessage{Content: content}, nil
		}
		um := UserMessage{Content: content, FromText: f.FromText}
		if f.Models.Prosody != nil {
			um.Prosody = f.Models.Prosody.Scores
		}
		return um, nil

	case TypeError:
		var f errorFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("undecodable %s message: %w", env.Type, err)
		}
		var text string
		if len(f.Message) == 0 || json.Unmarshal(f.Message, &text) != nil || text == "" {
			return nil, &DecodeError{Type: env.Type, Field: "message"}
		}
		return ErrorMessage{Code: f.Code, Slug: f.Slug, Message: text}, nil
	}

	return Unknown{Type: env.Type}, nil
}

func messageContent(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var m chatMessage
	if err := json.Unmarshal(raw, &m); err != nil || m.Content == nil {
		return "", false
	}
	return *m.Content, true
}
