package session

import (
	"bytes"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dougsko/fpvlinkd/pkg/logging"
)

// DefaultTimeout is the deadline for a sent command
const DefaultTimeout = 4 * time.Second

// Channel delivers an encoded command to a target. A false return means
// the command could not be sent; results arrive later through
// Session.OnCommandResult.
type Channel interface {
	SendCommand(commandID uint32, param uint8, payload []byte) bool
}

// ChannelFunc adapts a function to the Channel interface
type ChannelFunc func(commandID uint32, param uint8, payload []byte) bool

func (f ChannelFunc) SendCommand(commandID uint32, param uint8, payload []byte) bool {
	return f(commandID, param, payload)
}

// Scheduler runs fn once after d. The returned function stops the timer and
// reports whether it was still pending.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) (stop func() bool)
}

type timeScheduler struct{}

func (timeScheduler) AfterFunc(d time.Duration, fn func()) func() bool {
	return time.AfterFunc(d, fn).Stop
}

// TimeScheduler schedules on real timers. Callbacks run on their own
// goroutine.
func TimeScheduler() Scheduler { return timeScheduler{} }

// CommandIDs hands out command ids shared by all sessions so results can be
// routed without ambiguity
type CommandIDs struct {
	last atomic.Uint32
}

// Next returns the next command id, never zero
func (c *CommandIDs) Next() uint32 {
	id := c.last.Add(1)
	if id == 0 {
		id = c.last.Add(1)
	}
	return id
}

// Hooks reconcile local state with the outcome of a request. Commit runs on
// acknowledgement; an error turns the outcome into a rejection. Revert runs
// once on every other terminal outcome.
type Hooks struct {
	Commit func() error
	Revert func()
}

// Config holds session collaborators
type Config struct {
	Timeout   time.Duration
	Scheduler Scheduler
	IDs       *CommandIDs
	OnEvent   func(Event)
	Now       func() time.Time
}

// Request is one change travelling through a session
type Request struct {
	ID          uuid.UUID
	Kind        Kind
	Payload     Payload
	CommandID   uint32
	SubmittedAt time.Time
	RetryCount  int

	encoded []byte
	hooks   Hooks
}

// Status summarises a session for callers
type Status struct {
	Target     Target    `json:"target"`
	State      State     `json:"state"`
	LastResult State     `json:"last_result"`
	InFlight   *Request  `json:"-"`
	CommandID  uint32    `json:"command_id,omitempty"`
	RequestID  uuid.UUID `json:"request_id"`
	Queued     bool      `json:"queued"`
	RetryCount int       `json:"retry_count"`
}

// Session drives the command exchange for one target. At most one command
// is in flight and at most one request waits behind it. Session is not
// safe for concurrent use; the owner serializes calls, timer callbacks and
// command results.
type Session struct {
	target  Target
	channel Channel
	config  Config

	draft     *Request
	queued    *Request
	inFlight  *Request
	stopTimer func() bool

	lastResult State
	lastFailed *Request
}

// New creates a session for target
func New(target Target, channel Channel, config Config) *Session {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Scheduler == nil {
		config.Scheduler = TimeScheduler()
	}
	if config.IDs == nil {
		config.IDs = &CommandIDs{}
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Session{
		target:     target,
		channel:    channel,
		config:     config,
		lastResult: StateIdle,
	}
}

func (s *Session) Target() Target { return s.target }

// State returns Sent while a command is in flight, Building while a draft
// is open and Idle otherwise
func (s *Session) State() State {
	switch {
	case s.inFlight != nil:
		return StateSent
	case s.draft != nil:
		return StateBuilding
	}
	return StateIdle
}

// Status returns the session state together with the last terminal outcome
func (s *Session) Status() Status {
	st := Status{
		Target:     s.target,
		State:      s.State(),
		LastResult: s.lastResult,
		Queued:     s.queued != nil,
	}
	if s.inFlight != nil {
		r := *s.inFlight
		st.InFlight = &r
		st.CommandID = r.CommandID
		st.RequestID = r.ID
		st.RetryCount = r.RetryCount
	}
	return st
}

// InFlightCommand returns the id of the command awaiting a result
func (s *Session) InFlightCommand() (uint32, bool) {
	if s.inFlight == nil {
		return 0, false
	}
	return s.inFlight.CommandID, true
}

// QueuedKind returns the kind of the request waiting behind the command in
// flight
func (s *Session) QueuedKind() (Kind, bool) {
	if s.queued == nil {
		return "", false
	}
	return s.queued.Kind, true
}

// Begin opens a draft. While a command is in flight the draft becomes the
// queued request once submitted.
func (s *Session) Begin(kind Kind) (uuid.UUID, error) {
	if s.draft != nil {
		return uuid.Nil, ErrSessionBusy
	}
	if _, ok := kindParams[kind]; !ok {
		return uuid.Nil, fmt.Errorf("unknown command kind: %s", kind)
	}
	s.draft = &Request{ID: uuid.New(), Kind: kind}
	return s.draft.ID, nil
}

// Submit finishes the draft and sends it, or queues it behind the command in
// flight. A queued request with the same kind and payload absorbs the draft;
// its handle is returned instead.
func (s *Session) Submit(id uuid.UUID, payload Payload, hooks Hooks) (uuid.UUID, error) {
	if s.draft == nil || s.draft.ID != id {
		return uuid.Nil, fmt.Errorf("%w: %s", ErrUnknownRequest, id)
	}
	if payload.Parts() == 0 {
		return uuid.Nil, ErrEmptyPayload
	}
	encoded, err := payload.Encode()
	if err != nil {
		return uuid.Nil, fmt.Errorf("encode payload: %w", err)
	}

	r := s.draft
	s.draft = nil
	r.Payload = payload
	r.encoded = encoded
	r.hooks = hooks
	if s.lastFailed != nil && s.lastFailed.Kind == r.Kind && bytes.Equal(s.lastFailed.encoded, encoded) {
		r.RetryCount = s.lastFailed.RetryCount + 1
	}

	if s.inFlight == nil {
		s.send(r)
		return r.ID, nil
	}

	if q := s.queued; q != nil {
		if q.Kind == r.Kind && bytes.Equal(q.encoded, r.encoded) {
			merged := q.ID
			e := s.event(EventCoalesced, r, nil)
			e.MergedInto = &merged
			s.emit(e)
			return q.ID, nil
		}
		s.queued = nil
		s.revert(q)
		s.emit(s.event(EventSuperseded, q, nil))
	}
	s.queued = r
	s.emit(s.event(EventQueued, r, nil))
	return r.ID, nil
}

// Request opens, fills and submits a request in one step
func (s *Session) Request(kind Kind, payload Payload, hooks Hooks) (uuid.UUID, error) {
	id, err := s.Begin(kind)
	if err != nil {
		return uuid.Nil, err
	}
	handle, err := s.Submit(id, payload, hooks)
	if err != nil {
		s.draft = nil
		return uuid.Nil, err
	}
	return handle, nil
}

// Cancel drops an open draft or a queued request. Commands already sent can
// not be cancelled.
func (s *Session) Cancel(id uuid.UUID) error {
	switch {
	case s.draft != nil && s.draft.ID == id:
		r := s.draft
		s.draft = nil
		s.emit(s.event(EventCancelled, r, nil))
		return nil
	case s.queued != nil && s.queued.ID == id:
		r := s.queued
		s.queued = nil
		s.revert(r)
		s.emit(s.event(EventCancelled, r, nil))
		return nil
	case s.inFlight != nil && s.inFlight.ID == id:
		return ErrCannotCancelSent
	}
	return fmt.Errorf("%w: %s", ErrUnknownRequest, id)
}

// Owns reports whether the session holds the request in any state
func (s *Session) Owns(id uuid.UUID) bool {
	for _, r := range []*Request{s.draft, s.queued, s.inFlight} {
		if r != nil && r.ID == id {
			return true
		}
	}
	return false
}

func (s *Session) send(r *Request) {
	r.CommandID = s.config.IDs.Next()
	r.SubmittedAt = s.config.Now()
	s.inFlight = r

	commandID := r.CommandID
	s.stopTimer = s.config.Scheduler.AfterFunc(s.config.Timeout, func() {
		s.expire(commandID)
	})
	s.emit(s.event(EventSent, r, nil))

	if !s.channel.SendCommand(commandID, r.Kind.Param(), r.encoded) {
		// a synchronous result may already have resolved it
		if s.inFlight == r {
			s.resolve(r, EventRejected, StateRejected, &RejectedError{Reason: "channel unavailable"})
		}
	}
}

// OnCommandResult reconciles a command outcome. Results for commands that
// are not in flight are ignored and false is returned.
func (s *Session) OnCommandResult(commandID uint32, result Result) bool {
	r := s.inFlight
	if r == nil || r.CommandID != commandID {
		logging.Warn("session", fmt.Sprintf("Ignoring stale result for command %d on %s", commandID, s.target))
		return false
	}

	switch result.Status {
	case ResultAccepted:
		expected := r.Payload.Parts()
		if result.Applied != 0 && result.Applied != expected {
			err := &ProtocolViolationError{Expected: expected, Applied: result.Applied}
			logging.Error("session", fmt.Sprintf("Command %d: %v", commandID, err))
			s.resolve(r, EventProtocolViolation, StateRejected, err)
			return true
		}
		if r.hooks.Commit != nil {
			if err := r.hooks.Commit(); err != nil {
				s.resolve(r, EventRejected, StateRejected, &RejectedError{Reason: err.Error()})
				return true
			}
		}
		s.resolve(r, EventAcknowledged, StateAcknowledged, nil)
	default:
		s.resolve(r, EventRejected, StateRejected, &RejectedError{Reason: result.Reason})
	}
	return true
}

func (s *Session) expire(commandID uint32) {
	r := s.inFlight
	if r == nil || r.CommandID != commandID {
		return
	}
	logging.Warn("session", fmt.Sprintf("Command %d to %s timed out after %v", commandID, s.target, s.config.Timeout))
	s.stopTimer = nil
	s.resolve(r, EventTimedOut, StateTimedOut, ErrCommandTimeout)
}

// resolve finishes the in flight request and dispatches the queued one
func (s *Session) resolve(r *Request, kind EventType, state State, err error) {
	if s.stopTimer != nil {
		s.stopTimer()
		s.stopTimer = nil
	}
	s.inFlight = nil
	s.lastResult = state

	if err != nil {
		s.revert(r)
		s.lastFailed = r
	} else {
		s.lastFailed = nil
	}
	s.emit(s.event(kind, r, err))

	if q := s.queued; q != nil {
		s.queued = nil
		s.send(q)
	}
}

func (s *Session) revert(r *Request) {
	if r.hooks.Revert != nil {
		r.hooks.Revert()
	}
}

func (s *Session) event(kind EventType, r *Request, err error) Event {
	e := Event{
		Type:       kind,
		RequestID:  r.ID,
		Target:     s.target,
		Kind:       r.Kind,
		CommandID:  r.CommandID,
		RetryCount: r.RetryCount,
		Err:        err,
		Time:       s.config.Now(),
	}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

func (s *Session) emit(e Event) {
	if s.config.OnEvent != nil {
		s.config.OnEvent(e)
	}
}
