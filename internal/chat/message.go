package chat

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/wolfman30/greanly/internal/llm"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ErrMalformedRequest is returned when a chat body cannot be decoded or has
// neither messages nor a message.
var ErrMalformedRequest = errors.New("chat: malformed request")

// ContentPart is one typed piece of a message. Only TextPart carries content
// the pipeline reads.
type ContentPart interface {
	partType() string
}

// TextPart is plain text typed by the user or produced by the assistant.
type TextPart struct {
	Text string
}

func (TextPart) partType() string { return "text" }

// UnknownPart stands in for any part type the backend does not consume
// (reasoning, tool output, files, step markers).
type UnknownPart struct {
	Type string
}

func (p UnknownPart) partType() string { return p.Type }

// ChatMessage is one entry of the client-held conversation.
type ChatMessage struct {
	ID    string        `json:"id"`
	Role  string        `json:"role"`
	Parts []ContentPart `json:"-"`
}

type wirePart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type wireMessage struct {
	ID      string            `json:"id"`
	Role    string            `json:"role"`
	Parts   []json.RawMessage `json:"parts"`
	Content *string           `json:"content"`
}

func (m *ChatMessage) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	m.ID = w.ID
	m.Role = w.Role
	m.Parts = make([]ContentPart, 0, len(w.Parts))
	for _, raw := range w.Parts {
		var p wirePart
		if err := json.Unmarshal(raw, &p); err != nil {
			// non-object parts are ignored like any other unknown part
			m.Parts = append(m.Parts, UnknownPart{})
			continue
		}
		if p.Type == "text" {
			m.Parts = append(m.Parts, TextPart{Text: p.Text})
			continue
		}
		m.Parts = append(m.Parts, UnknownPart{Type: p.Type})
	}
	// Older clients send a flat content string instead of parts.
	if len(w.Parts) == 0 && w.Content != nil {
		m.Parts = append(m.Parts, TextPart{Text: *w.Content})
	}
	return nil
}

func (m ChatMessage) MarshalJSON() ([]byte, error) {
	parts := make([]wirePart, 0, len(m.Parts))
	for _, p := range m.Parts {
		switch v := p.(type) {
		case TextPart:
			parts = append(parts, wirePart{Type: "text", Text: v.Text})
		case UnknownPart:
			parts = append(parts, wirePart{Type: v.Type})
		}
	}
	return json.Marshal(struct {
		ID    string     `json:"id"`
		Role  string     `json:"role"`
		Parts []wirePart `json:"parts"`
	}{m.ID, m.Role, parts})
}

// Text joins the message's text parts in display order.
func (m ChatMessage) Text() string {
	var b strings.Builder
	for _, p := range m.Parts {
		if t, ok := p.(TextPart); ok {
			b.WriteString(t.Text)
		}
	}
	return b.String()
}

// NewUserMessage wraps plain text as a single-part user message.
func NewUserMessage(text string) ChatMessage {
	return ChatMessage{ID: uuid.NewString(), Role: RoleUser, Parts: []ContentPart{TextPart{Text: text}}}
}

// Request is the body accepted by the chat endpoints.
type Request struct {
	Messages []ChatMessage `json:"messages"`
	Message  *string       `json:"message"`
}

// DecodeRequest parses a chat body into the conversation it carries. A body
// with only "message" becomes a one-message conversation; an empty messages
// array is valid.
func DecodeRequest(body []byte) ([]ChatMessage, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrMalformedRequest)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	if msgs, ok := raw["messages"]; ok && !bytes.Equal(bytes.TrimSpace(msgs), []byte("null")) {
		if req.Messages == nil {
			req.Messages = []ChatMessage{}
		}
		return req.Messages, nil
	}
	if req.Message != nil {
		return []ChatMessage{NewUserMessage(*req.Message)}, nil
	}
	return nil, fmt.Errorf("%w: messages or message is required", ErrMalformedRequest)
}

// LatestUserText returns the text of the most recent user message, or "" when
// there is none.
func LatestUserText(messages []ChatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return messages[i].Text()
		}
	}
	return ""
}

// modelMessages converts the client conversation to model input. Messages
// without text and roles the model does not take are dropped.
func modelMessages(messages []ChatMessage) []llm.Message {
	out := make([]llm.Message, 0, len(messages))
	for _, m := range messages {
		text := m.Text()
		if strings.TrimSpace(text) == "" {
			continue
		}
		switch m.Role {
		case RoleUser:
			out = append(out, llm.Message{Role: llm.RoleUser, Content: text})
		case RoleAssistant:
			out = append(out, llm.Message{Role: llm.RoleAssistant, Content: text})
		case RoleSystem:
			out = append(out, llm.Message{Role: llm.RoleSystem, Content: text})
		}
	}
	return out
}
