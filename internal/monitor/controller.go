// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/jeranaias/complywatch/internal/logging"
	"github.com/jeranaias/complywatch/internal/session"
	"github.com/jeranaias/complywatch/internal/stream"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrUnterminatedStream is the cause recorded when the body ends, by
	// [DONE] or EOF, before a blocked or completed message.
	ErrUnterminatedStream = errors.New("stream ended without a completed or blocked message")

	// ErrIdleTimeout is the cause recorded when no bytes arrive within the
	// configured idle timeout.
	ErrIdleTimeout = errors.New("stream idle timeout")

	// ErrCancelled is the cause recorded for a cancelled session.
	ErrCancelled = errors.New("stream cancelled")
)

// =============================================================================
// UPDATES
// =============================================================================

// UpdateType says why an Update was published.
type UpdateType int

const (
	// UpdateStarted is published once when a session's read loop begins.
	UpdateStarted UpdateType = iota
	// UpdateMessage is published after each message that changed state.
	UpdateMessage
	// UpdateFinished is published when the session is over: its read loop
	// ended, or it was cancelled or timed out after the loop ended. Status is
	// terminal unless lenient end left the session Streaming.
	UpdateFinished
)

// String returns the update type name.
func (t UpdateType) String() string {
	switch t {
	case UpdateStarted:
		return "started"
	case UpdateMessage:
		return "message"
	case UpdateFinished:
		return "finished"
	default:
		return fmt.Sprintf("update(%d)", int(t))
	}
}

// Update is delivered to subscribers. State is a copy owned by the update;
// it is shared by every subscriber and must not be modified.
type Update struct {
	Type UpdateType
	// Kind is the applied message type for UpdateMessage.
	Kind  stream.Kind
	State session.State
}

// =============================================================================
// CONTROLLER
// =============================================================================

// run is one session's read loop and its transport.
type run struct {
	id        string
	body      io.ReadCloser
	closeOnce sync.Once
	done      chan struct{}
	stopWatch func() bool

	// Guarded by Controller.mu.
	exited bool
	seq    uint64

	notifyMu  sync.Mutex
	delivered uint64
}

func (r *run) closeBody() {
	r.closeOnce.Do(func() {
		_ = r.body.Close()
	})
}

type subscriber struct {
	id int
	fn func(Update)
}

// Controller runs at most one stream session at a time and is the only writer
// of its session state. It is safe for concurrent use.
type Controller struct {
	logger      *slog.Logger
	diag        *Diagnostics
	now         func() time.Time
	newID       func() string
	idleTimeout time.Duration
	lenientEnd  bool

	mu    sync.Mutex
	state session.State
	cur   *run
	stats stream.DecoderStats

	subMu   sync.RWMutex
	subs    []subscriber
	nextSub int
}

// New creates an idle Controller.
func New(opts ...Option) *Controller {
	c := &Controller{
		logger: logging.Discard(),
		now:    time.Now,
		newID:  defaultID,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start begins a new session reading body and returns its local id. An
// active session is cancelled first; its state is replaced, never merged.
// Cancelling ctx cancels the session. The controller closes body.
func (c *Controller) Start(ctx context.Context, body io.ReadCloser) string {
	id := c.newID()
	now := c.now()
	s := &run{id: id, body: body, done: make(chan struct{})}

	c.mu.Lock()
	prev := c.cur
	prevStreaming := prev != nil && c.state.Status == session.Streaming
	c.cur = s
	c.state = session.Begin(id, now)
	c.stats = stream.DecoderStats{}
	c.mu.Unlock()

	if prev != nil {
		if prevStreaming {
			c.diag.finished(session.Cancelled)
			c.logger.Info("cancelled active session before starting a new one", "local_id", prev.id)
		}
		go prev.closeBody()
	}

	c.diag.started()
	c.logger.Info("stream session started", "local_id", id)

	if ctx != nil && ctx.Done() != nil {
		s.stopWatch = context.AfterFunc(ctx, func() {
			cause := fmt.Errorf("%w: %w", ErrCancelled, context.Cause(ctx))
			if c.abort(s, session.Cancelled, cause) {
				c.logger.Info("stream session cancelled by context", "local_id", s.id)
			}
		})
	}

	go c.run(s)
	return id
}

// Cancel ends the active session. The state is Cancelled when Cancel returns;
// the body is closed in the background. It reports false when no session
// was streaming.
func (c *Controller) Cancel() bool {
	c.mu.Lock()
	s := c.cur
	c.mu.Unlock()
	if s == nil {
		return false
	}

	if !c.abort(s, session.Cancelled, ErrCancelled) {
		return false
	}
	c.logger.Info("stream session cancelled", "local_id", s.id)
	return true
}

// Snapshot returns a deep copy of the current session state. Before the
// first Start it is the zero State, whose status is Idle.
func (c *Controller) Snapshot() session.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

// Status returns the current session status.
func (c *Controller) Status() session.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Status
}

// DecoderStats returns line counters for the current session. They are
// filled in when its read loop exits.
func (c *Controller) DecoderStats() stream.DecoderStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Done returns a channel closed when the current session's read loop has
// exited. Before the first Start it is already closed.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return c.cur.done
}

// Wait blocks until the current session's read loop exits or ctx is done,
// then returns a snapshot.
func (c *Controller) Wait(ctx context.Context) (session.State, error) {
	select {
	case <-c.Done():
		return c.Snapshot(), nil
	case <-ctx.Done():
		return c.Snapshot(), ctx.Err()
	}
}

// Subscribe registers fn for every Update, in order, and returns a function
// that removes it. Callbacks normally run on the session's read goroutine;
// a Finished update caused by Cancel after the loop has already exited is
// delivered from a separate goroutine. A panic in fn is recovered and logged.
func (c *Controller) Subscribe(fn func(Update)) (unsubscribe func()) {
	c.subMu.Lock()
	c.nextSub++
	id := c.nextSub
	c.subs = append(c.subs, subscriber{id: id, fn: fn})
	c.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.subMu.Lock()
			defer c.subMu.Unlock()
			for i, sub := range c.subs {
				if sub.id == id {
					c.subs = append(c.subs[:i:i], c.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// =============================================================================
// READ LOOP
// =============================================================================

func (c *Controller) run(s *run) {
	c.publishCurrent(s, UpdateStarted, "")

	var timer *time.Timer
	if c.idleTimeout > 0 {
		timer = time.AfterFunc(c.idleTimeout, func() {
			if c.abort(s, session.Errored, ErrIdleTimeout) {
				c.logger.Warn("no stream data within idle timeout", "local_id", s.id, "timeout", c.idleTimeout)
			}
		})
	}

	src := &activityReader{r: s.body, onRead: func(n int) {
		c.diag.read(n)
		if timer != nil && n > 0 {
			timer.Reset(c.idleTimeout)
		}
	}}
	dec := stream.NewDecoder(c.logger.With("local_id", s.id))
	c.consume(s, stream.NewFrameReader(src), dec)

	if timer != nil {
		timer.Stop()
	}
	if s.stopWatch != nil {
		s.stopWatch()
	}
	c.exit(s, dec.Stats())
	s.closeBody()
	close(s.done)
}

// consume pulls lines until the stream ends or the session no longer
// accepts messages.
func (c *Controller) consume(s *run, fr *stream.FrameReader, dec *stream.Decoder) {
	for {
		line, err := fr.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				c.endOfStream(s, "eof")
			} else {
				c.readFailed(s, err)
			}
			return
		}

		res := dec.Decode(line)
		switch res.Outcome {
		case stream.Skipped:
		case stream.Invalid:
			c.diag.decodeError()
		case stream.End:
			c.endOfStream(s, "done")
			return
		case stream.Decoded:
			if _, ok := res.Message.(stream.Unknown); ok {
				c.diag.unknown()
			}
			if !c.apply(s, res.Message) {
				return
			}
		}
	}
}

// apply runs one message through the aggregator. It returns false when the
// loop should stop reading.
func (c *Controller) apply(s *run, msg stream.Message) bool {
	now := c.now()

	c.mu.Lock()
	if c.cur != s {
		c.mu.Unlock()
		c.lateMessage(s, msg, "superseded")
		return false
	}
	if status := c.state.Status; status != session.Streaming {
		c.mu.Unlock()
		c.lateMessage(s, msg, status.String())
		// Server terminals are normally followed by [DONE]; keep draining.
		return status == session.Blocked || status == session.Completed
	}

	next, eff := session.Apply(c.state, msg, now)
	if eff.Transition != session.TransitionNone {
		next = session.Finish(next, eff.Transition.Status(), eff.Reason, eff.Err, now)
	}
	c.state = next
	if !eff.Changed {
		c.mu.Unlock()
		return true
	}

	notify := c.hasSubscribers()
	var snap session.State
	var seq uint64
	if notify {
		snap = next.Clone()
		s.seq++
		seq = s.seq
	}
	c.mu.Unlock()

	c.diag.applied(msg.Kind())
	if eff.Transition != session.TransitionNone {
		c.diag.finished(next.Status)
		c.logger.Info("stream session finished",
			"local_id", s.id,
			"session_id", next.SessionID,
			"status", next.Status.String(),
			"reason", next.Reason,
			"tokens", len(next.Tokens))
	}
	if notify {
		c.publish(s, Update{Type: UpdateMessage, Kind: msg.Kind(), State: snap}, seq)
	}
	return true
}

func (c *Controller) endOfStream(s *run, how string) {
	if c.lenientEnd {
		c.mu.Lock()
		stuck := c.cur == s && c.state.Status == session.Streaming
		c.mu.Unlock()
		if stuck {
			c.logger.Warn("stream ended without a terminal message; session left streaming",
				"local_id", s.id, "end", how)
		}
		return
	}
	if c.abort(s, session.Errored, ErrUnterminatedStream) {
		c.logger.Warn("stream ended without a terminal message", "local_id", s.id, "end", how)
	}
}

func (c *Controller) readFailed(s *run, err error) {
	if c.abort(s, session.Errored, err) {
		c.logger.Error("stream read failed", "local_id", s.id, "error", err)
		return
	}
	// Expected after Cancel closes the body.
	c.logger.Debug("read error after session ended", "local_id", s.id, "error", err)
}

func (c *Controller) lateMessage(s *run, msg stream.Message, status string) {
	c.diag.late()
	c.logger.Debug("dropping message received after session ended",
		"local_id", s.id, "type", string(msg.Kind()), "status", status)
}

// abort moves a Streaming session to a terminal status decided by the
// controller rather than the server, and closes its body in the background.
func (c *Controller) abort(s *run, status session.Status, cause error) bool {
	now := c.now()

	c.mu.Lock()
	if c.cur != s || c.state.Status != session.Streaming {
		c.mu.Unlock()
		return false
	}
	c.state = session.Finish(c.state, status, "", cause, now)
	notify := s.exited && c.hasSubscribers()
	var snap session.State
	var seq uint64
	if notify {
		snap = c.state.Clone()
		s.seq++
		seq = s.seq
	}
	c.mu.Unlock()

	c.diag.finished(status)
	go s.closeBody()
	if notify {
		// The read loop is gone, so nothing else will report this. Publish
		// off the caller's goroutine in case the caller is a subscriber.
		go c.publish(s, Update{Type: UpdateFinished, State: snap}, seq)
	}
	return true
}

func (c *Controller) exit(s *run, stats stream.DecoderStats) {
	c.mu.Lock()
	s.exited = true
	current := c.cur == s
	if current {
		c.stats = stats
	}
	c.mu.Unlock()

	c.logger.Debug("stream read loop exited",
		"local_id", s.id,
		"lines", stats.Lines,
		"skipped", stats.Skipped,
		"invalid", stats.Invalid,
		"unknown", stats.Unknown)

	if current {
		c.publishCurrent(s, UpdateFinished, "")
	}
}

// =============================================================================
// PUBLISHING
// =============================================================================

func (c *Controller) hasSubscribers() bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subs) > 0
}

func (c *Controller) publishCurrent(s *run, typ UpdateType, kind stream.Kind) {
	c.mu.Lock()
	if c.cur != s {
		c.mu.Unlock()
		return
	}
	snap := c.state.Clone()
	s.seq++
	seq := s.seq
	c.mu.Unlock()

	c.publish(s, Update{Type: typ, Kind: kind, State: snap}, seq)
}

// publish delivers u unless a newer update of the same session was already
// delivered, so observers never see a session move backwards.
func (c *Controller) publish(s *run, u Update, seq uint64) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	if seq <= s.delivered {
		return
	}
	s.delivered = seq

	c.subMu.RLock()
	subs := make([]subscriber, len(c.subs))
	copy(subs, c.subs)
	c.subMu.RUnlock()

	for _, sub := range subs {
		c.deliver(sub.fn, u)
	}
}

func (c *Controller) deliver(fn func(Update), u Update) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("stream subscriber panicked", "panic", r, "update", u.Type.String())
		}
	}()
	fn(u)
}

// activityReader reports every read so the controller can count bytes and
// push back the idle deadline.
type activityReader struct {
	r      io.Reader
	onRead func(n int)
}

func (a *activityReader) Read(p []byte) (int, error) {
	n, err := a.r.Read(p)
	a.onRead(n)
	return n, err
}
