package session

import (
	"context"
	"regexp"
	"sync"
	"time"

	"beamcode/internal/message"
)

// IDPattern validates a session id against spec §3's UUID shape.
var IDPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// ValidID reports whether id matches the required UUID shape.
func ValidID(id string) bool {
	return IDPattern.MatchString(id)
}

// MaxMessageHistoryLength caps Session.messageHistory (spec §3).
const MaxMessageHistoryLength = 500

// BackendSession is the narrow handle the Runtime holds onto a live
// adapter connection. It mirrors the BackendSession contract in spec
// §4.1; the concrete type lives in package backend, referenced here only
// as an interface to avoid an import cycle (session is lower in the
// dependency graph than backend's adapters).
type BackendSession interface {
	SessionID() string
	Send(ctx context.Context, msg message.Unified) error
	SendRaw(ctx context.Context, payload []byte) error
	Close() error
}

// HistoryEntry pairs a sequenced UnifiedMessage with the seq it was
// broadcast at, for replay bookkeeping.
type HistoryEntry struct {
	Seq     uint64
	Message message.Unified
}

// Runtime is the single authority for one session's mutable state (spec
// §4.10). Every other component reaches the session only through these
// narrow accessors — grounded on the teacher's pattern of wiring a fixed
// set of callbacks onto *client.Client in Session.NewClient() rather than
// handing collaborators the whole aggregate.
type Runtime struct {
	mu sync.RWMutex

	id          string
	adapterName string
	backend     BackendSession

	state State
	corr  *CorrelationBuffer

	history []HistoryEntry

	pendingPermissions map[string]PermissionRequest
	pendingMessages    []string
	queuedMessage      *QueuedMessage

	lastStatus Status

	capabilities *CapabilitiesPolicy

	consumers     map[ConsumerHandle]ConsumerIdentity
	rateLimiters  map[ConsumerHandle]RateLimiter

	registry *CommandRegistry

	lastActivity time.Time

	seq *message.Sequencer

	closed bool
}

// ConsumerHandle is an opaque handle to a connected consumer socket.
type ConsumerHandle uint64

// RateLimiter is the narrow interface the Runtime needs from a consumer's
// token bucket (internal/ratelimit.Limiter satisfies it).
type RateLimiter interface {
	Allow() bool
}

// QueuedMessage is the single-slot "waiting for idle" user message (spec §3).
type QueuedMessage struct {
	Content string
	Images  []string
}

// NewRuntime constructs a Runtime for a freshly created or restored session.
func NewRuntime(id, adapterName string, initTimeout time.Duration) *Runtime {
	return &Runtime{
		id:                 id,
		adapterName:        adapterName,
		state:              NewState(id),
		corr:               NewCorrelationBuffer(),
		pendingPermissions: make(map[string]PermissionRequest),
		capabilities:       NewCapabilitiesPolicy(initTimeout),
		consumers:          make(map[ConsumerHandle]ConsumerIdentity),
		rateLimiters:       make(map[ConsumerHandle]RateLimiter),
		registry:           NewCommandRegistry(),
		lastActivity:       time.Now(),
		seq:                &message.Sequencer{},
	}
}

func (r *Runtime) ID() string { return r.id }

func (r *Runtime) AdapterName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.adapterName
}

func (r *Runtime) SetAdapterName(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapterName = name
}

func (r *Runtime) Backend() BackendSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.backend
}

func (r *Runtime) SetBackend(b BackendSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backend = b
}

func (r *Runtime) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

func (r *Runtime) SetState(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = s
}

// CorrelationBuffer exposes the team-tool buffer to the reducer caller
// (the Router), which must thread the same buffer through every Reduce
// call for a session.
func (r *Runtime) CorrelationBuffer() *CorrelationBuffer {
	return r.corr
}

func (r *Runtime) Capabilities() *CapabilitiesPolicy {
	return r.capabilities
}

func (r *Runtime) Sequencer() *message.Sequencer {
	return r.seq
}

// ResetSequencer restarts numbering at 1, e.g. on a session re-init (spec
// §3: "First seq after create and after reset is always 1").
func (r *Runtime) ResetSequencer() {
	r.seq.Reset()
}

// AppendHistory records msg at seq, evicting the oldest entry if the cap
// is exceeded (spec §3: messageHistory.length <= maxMessageHistoryLength).
func (r *Runtime) AppendHistory(seq uint64, msg message.Unified) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = append(r.history, HistoryEntry{Seq: seq, Message: msg})
	if len(r.history) > MaxMessageHistoryLength {
		r.history = r.history[len(r.history)-MaxMessageHistoryLength:]
	}
}

// HistorySince returns all history entries with Seq > lastSeen, in order.
func (r *Runtime) HistorySince(lastSeen uint64) []HistoryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]HistoryEntry, 0)
	for _, e := range r.history {
		if e.Seq > lastSeen {
			out = append(out, e)
		}
	}
	return out
}

// HistoryTail returns the trailing n history entries.
func (r *Runtime) HistoryTail(n int) []HistoryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if n >= len(r.history) {
		out := make([]HistoryEntry, len(r.history))
		copy(out, r.history)
		return out
	}
	out := make([]HistoryEntry, n)
	copy(out, r.history[len(r.history)-n:])
	return out
}

// PutPendingPermission registers a new permission request, keyed by its
// own request id (spec §3 invariant: pendingPermissions[k].request_id==k).
func (r *Runtime) PutPendingPermission(p PermissionRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pendingPermissions[p.RequestID] = p
}

// ResolvePendingPermission removes and returns a pending permission request.
func (r *Runtime) ResolvePendingPermission(requestID string) (PermissionRequest, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pendingPermissions[requestID]
	if ok {
		delete(r.pendingPermissions, requestID)
	}
	return p, ok
}

// PendingPermissions returns a snapshot of all outstanding permission requests.
func (r *Runtime) PendingPermissions() []PermissionRequest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]PermissionRequest, 0, len(r.pendingPermissions))
	for _, p := range r.pendingPermissions {
		out = append(out, p)
	}
	return out
}

// ClearPendingPermissions drops all pending requests, e.g. on session close.
func (r *Runtime) ClearPendingPermissions() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pendingPermissions = make(map[string]PermissionRequest)
}

const pendingMessageQueueMaxSize = 200

// BufferPendingMessage appends a message to the backend-reconnecting
// buffer, dropping the oldest entry once full (spec §5 backpressure).
func (r *Runtime) BufferPendingMessage(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pendingMessages = append(r.pendingMessages, text)
	if len(r.pendingMessages) > pendingMessageQueueMaxSize {
		r.pendingMessages = r.pendingMessages[len(r.pendingMessages)-pendingMessageQueueMaxSize:]
	}
}

// DrainPendingMessages returns and clears all buffered outbound messages.
func (r *Runtime) DrainPendingMessages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.pendingMessages
	r.pendingMessages = nil
	return out
}

func (r *Runtime) SetQueuedMessage(q *QueuedMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queuedMessage = q
}

func (r *Runtime) QueuedMessage() *QueuedMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.queuedMessage
}

func (r *Runtime) LastStatus() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastStatus
}

func (r *Runtime) SetLastStatus(s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastStatus = s
}

// RegisterConsumer adds a consumer socket and its rate limiter atomically,
// preserving spec §3 invariant: no consumerSockets entry without a
// matching consumerRateLimiters entry.
func (r *Runtime) RegisterConsumer(h ConsumerHandle, id ConsumerIdentity, limiter RateLimiter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.consumers[h] = id
	r.rateLimiters[h] = limiter
}

// RemoveConsumer releases a consumer and its rate limiter together.
func (r *Runtime) RemoveConsumer(h ConsumerHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.consumers, h)
	delete(r.rateLimiters, h)
}

func (r *Runtime) Consumers() map[ConsumerHandle]ConsumerIdentity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[ConsumerHandle]ConsumerIdentity, len(r.consumers))
	for k, v := range r.consumers {
		out[k] = v
	}
	return out
}

func (r *Runtime) ConsumerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.consumers)
}

func (r *Runtime) RateLimiterFor(h ConsumerHandle) (RateLimiter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.rateLimiters[h]
	return l, ok
}

func (r *Runtime) Registry() *CommandRegistry {
	return r.registry
}

func (r *Runtime) LastActivity() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastActivity
}

func (r *Runtime) Touch() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastActivity = time.Now()
}

func (r *Runtime) Closed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

func (r *Runtime) MarkClosed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}
