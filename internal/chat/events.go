package chat

import (
	"encoding/json"

	"github.com/google/uuid"
)

// FallbackText is the only thing a user sees when a request fails.
const FallbackText = "Sorry — something went wrong. Please try again in a moment."

type EventType string

const (
	EventStart          EventType = "start"
	EventTextStart      EventType = "text-start"
	EventTextDelta      EventType = "text-delta"
	EventTextEnd        EventType = "text-end"
	EventReasoningStart EventType = "reasoning-start"
	EventReasoningDelta EventType = "reasoning-delta"
	EventReasoningEnd   EventType = "reasoning-end"
	EventToolCall       EventType = "tool-call"
	EventToolResult     EventType = "tool-result"
	EventFinish         EventType = "finish"
)

// StreamEvent is one message of the UI stream protocol. Which fields are set
// depends on Type.
type StreamEvent struct {
	Type       EventType       `json:"type"`
	ID         string          `json:"id,omitempty"`
	Delta      string          `json:"delta,omitempty"`
	ToolCallID string          `json:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     any             `json:"output,omitempty"`
}

// emitter writes events for one response and enforces the envelope: a single
// start, text and reasoning blocks opened lazily and closed before anything
// else, and nothing after finish.
//
// Sends block until the consumer reads, so consumers must drain the channel.
type emitter struct {
	out      chan<- StreamEvent
	started  bool
	finished bool
	textID   string
	reasonID string
}

func newEmitter(out chan<- StreamEvent) *emitter {
	return &emitter{out: out}
}

func (e *emitter) emit(ev StreamEvent) {
	if e.finished {
		return
	}
	if !e.started && ev.Type != EventStart {
		e.started = true
		e.out <- StreamEvent{Type: EventStart}
	}
	e.out <- ev
}

func (e *emitter) start() {
	if e.started || e.finished {
		return
	}
	e.started = true
	e.out <- StreamEvent{Type: EventStart}
}

func (e *emitter) text(delta string) {
	if delta == "" {
		return
	}
	e.closeReasoning()
	if e.textID == "" {
		e.textID = uuid.NewString()
		e.emit(StreamEvent{Type: EventTextStart, ID: e.textID})
	}
	e.emit(StreamEvent{Type: EventTextDelta, ID: e.textID, Delta: delta})
}

func (e *emitter) reasoning(delta string) {
	if delta == "" {
		return
	}
	e.closeText()
	if e.reasonID == "" {
		e.reasonID = uuid.NewString()
		e.emit(StreamEvent{Type: EventReasoningStart, ID: e.reasonID})
	}
	e.emit(StreamEvent{Type: EventReasoningDelta, ID: e.reasonID, Delta: delta})
}

// closeText ends the open text block, if any. The next text opens a new one.
func (e *emitter) closeText() {
	if e.textID == "" {
		return
	}
	e.emit(StreamEvent{Type: EventTextEnd, ID: e.textID})
	e.textID = ""
}

func (e *emitter) closeReasoning() {
	if e.reasonID == "" {
		return
	}
	e.emit(StreamEvent{Type: EventReasoningEnd, ID: e.reasonID})
	e.reasonID = ""
}

// closeBlocks ends whichever block is open. At most one is.
func (e *emitter) closeBlocks() {
	e.closeText()
	e.closeReasoning()
}

func (e *emitter) toolCall(id, name, arguments string) {
	e.closeBlocks()
	input := json.RawMessage(arguments)
	if !json.Valid(input) {
		input, _ = json.Marshal(arguments)
	}
	e.emit(StreamEvent{Type: EventToolCall, ToolCallID: id, ToolName: name, Input: input})
}

func (e *emitter) toolResult(id, name string, output any) {
	e.emit(StreamEvent{Type: EventToolResult, ToolCallID: id, ToolName: name, Output: output})
}

// message emits text as a complete block of its own.
func (e *emitter) message(text string) {
	e.closeBlocks()
	e.text(text)
	e.closeText()
}

// fail closes whatever is open and shows the fallback message.
func (e *emitter) fail() {
	e.message(FallbackText)
}

func (e *emitter) finish() {
	if e.finished {
		return
	}
	e.start()
	e.closeBlocks()
	e.emit(StreamEvent{Type: EventFinish})
	e.finished = true
}
