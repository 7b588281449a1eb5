// Package message defines the canonical UnifiedMessage envelope that every
// Backend Adapter normalizes its wire protocol into, and the SequencedMessage
// wrapper the Broadcaster uses to fan messages out to consumers.
package message

import (
	"time"

	"github.com/google/uuid"
)

// Type is the discriminant tag on a UnifiedMessage.
type Type string

const (
	// Adapter-originated, metadata-carrying.
	TypeSessionInit     Type = "session_init"
	TypeStatusChange    Type = "status_change"
	TypeResult          Type = "result"
	TypeControlResponse Type = "control_response"

	// Consumer-originated.
	TypeUserMessage         Type = "user_message"
	TypeInterrupt           Type = "interrupt"
	TypePermissionResponse  Type = "permission_response"
	TypeConfigurationChange Type = "configuration_change"

	// Streaming / adapter-originated.
	TypeStreamEvent       Type = "stream_event"
	TypePermissionRequest Type = "permission_request"
	TypeToolProgress      Type = "tool_progress"

	// Adapter-originated, survive backpressure (spec §4.9 critical set).
	TypePermissionCancelled Type = "permission_cancelled"
	TypeError               Type = "error"
	TypeCLIConnected        Type = "cli_connected"
	TypeCLIDisconnected     Type = "cli_disconnected"

	// Consumer Gateway handshake and presence (spec §4.8, §5), never sent
	// to a backend adapter.
	TypeIdentity       Type = "identity"
	TypePresenceUpdate Type = "presence_update"
	TypePresenceQuery  Type = "presence_query"
	TypeSetAdapter     Type = "set_adapter"

	// Queued-message slot mutation (spec §4.8), handled by the Consumer
	// Gateway rather than forwarded to the backend.
	TypeQueueMessage        Type = "queue_message"
	TypeUpdateQueuedMessage Type = "update_queued_message"
	TypeCancelQueuedMessage Type = "cancel_queued_message"
)

// Role identifies the speaker of a UnifiedMessage's content.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// BlockType discriminates a content Block.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockImage      BlockType = "image"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// Block is one unit of message content. Only the fields relevant to
// BlockType are populated; the rest are zero values.
type Block struct {
	Type BlockType `json:"type"`

	// BlockText
	Text string `json:"text,omitempty"`

	// BlockImage
	ImageData     string `json:"image_data,omitempty"`
	ImageMIMEType string `json:"image_mime_type,omitempty"`

	// BlockToolUse
	ToolUseID string         `json:"tool_use_id,omitempty"`
	ToolName  string         `json:"tool_name,omitempty"`
	ToolInput map[string]any `json:"tool_input,omitempty"`

	// BlockToolResult
	ToolResultForID string `json:"tool_result_for_id,omitempty"`
	ToolResultText  string `json:"tool_result_text,omitempty"`
	ToolIsError     bool   `json:"tool_is_error,omitempty"`
}

// Unified is the canonical internal envelope every adapter translates its
// wire protocol into (inbound) and out of (outbound). It is the sole
// currency the Router, Reducer, and Broadcaster operate on.
type Unified struct {
	Type     Type           `json:"type"`
	Role     Role           `json:"role"`
	Content  []Block        `json:"content,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`

	// SessionID is set by the Router when it routes the message; adapters
	// need not populate it.
	SessionID string `json:"session_id,omitempty"`
}

// Sequenced wraps a payload with a per-session monotonic sequence number
// and a unique message id, per spec §3. The broker uses it with T =
// Unified throughout; control messages such as identity and
// presence_update are Unified values whose Metadata carries the payload.
type Sequenced[T any] struct {
	Seq       uint64    `json:"seq"`
	MessageID string    `json:"message_id"`
	Payload   T         `json:"payload"`
	Type      string    `json:"type"`
	Emitted   time.Time `json:"-"`
}

// Sequencer hands out strictly monotonic, gap-free sequence numbers for one
// session, starting at 1 and restarting at 1 on Reset (a fresh session_init).
// Not safe for concurrent use across goroutines without external
// synchronization — by design, every call happens on the owning session's
// single logical task (spec §5).
type Sequencer struct {
	current uint64
}

// Next returns the next sequence number, starting at 1.
func (s *Sequencer) Next() uint64 {
	s.current++
	return s.current
}

// Current returns the most recently issued sequence number (0 before the
// first call to Next).
func (s *Sequencer) Current() uint64 {
	return s.current
}

// Reset restarts the sequence at 1 for the next call to Next.
func (s *Sequencer) Reset() {
	s.current = 0
}

// NewMessageID returns a fresh unique message id for use in a Sequenced
// envelope.
func NewMessageID() string {
	return uuid.New().String()
}

// Wrap sequences payload as outbound message kind typ, using seq's next
// number and a fresh message id.
func Wrap[T any](seq *Sequencer, typ string, payload T) Sequenced[T] {
	return Sequenced[T]{
		Seq:       seq.Next(),
		MessageID: NewMessageID(),
		Payload:   payload,
		Type:      typ,
		Emitted:   time.Now(),
	}
}
