package control

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// State is the session's lifecycle phase.
type State int

const (
	StateConnecting State = iota
	StateReady
	StateAwaitingReply
	StateDetached
	StateErrored
	StateExited
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateAwaitingReply:
		return "awaiting-reply"
	case StateDetached:
		return "detached"
	case StateErrored:
		return "errored"
	case StateExited:
		return "exited"
	}
	return "unknown"
}

// DefaultReplyTimeout bounds how long a command waits for its reply
// block before failing with ErrTimeout.
const DefaultReplyTimeout = 5 * time.Second

// maxConsecutiveTimeouts is how many commands may time out in a row
// before the session is declared broken.
const maxConsecutiveTimeouts = 3

// Reply is the accumulated body of one command reply block.
type Reply struct {
	Lines []string
}

type replyResult struct {
	reply Reply
	err   error
}

// pendingCommand waits for the reply block matching its position in
// the FIFO. Abandoned commands (cancelled or timed out) keep their
// slot until their block arrives so later replies stay aligned.
type pendingCommand struct {
	text      string
	done      chan replyResult
	abandoned bool
}

// Options configures a session.
type Options struct {
	ReplyTimeout time.Duration
	Logger       *log.Logger
}

// Session is one long-lived control-mode connection. A reader
// goroutine frames and classifies incoming lines; notifications are
// queued in wire order for a single consumer, command replies resolve
// pending Sends strictly FIFO.
type Session struct {
	transport io.ReadWriteCloser
	logger    *log.Logger
	timeout   time.Duration

	wmu sync.Mutex // serializes pending-append + transport write pairs

	mu       sync.Mutex
	state    State
	pending  []*pendingCommand
	greeted  bool
	timeouts int

	// Flow control: while paused, notifications are held here and
	// released in order by the matching continue.
	pausing bool
	held    []Notification

	queue *notifyQueue
	out   chan Notification

	closeOnce sync.Once
}

// NewSession starts a session over the given transport and begins
// reading. The transport is typically the stdio of a child process
// running the multiplexer in control mode, or a pipe in tests.
func NewSession(transport io.ReadWriteCloser, opts Options) *Session {
	if opts.ReplyTimeout <= 0 {
		opts.ReplyTimeout = DefaultReplyTimeout
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	s := &Session{
		transport: transport,
		logger:    opts.Logger,
		timeout:   opts.ReplyTimeout,
		state:     StateConnecting,
		queue:     newNotifyQueue(),
		out:       make(chan Notification),
	}
	go s.readLoop()
	go s.dispatch()
	return s
}

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateReady && len(s.pending) > 0 {
		return StateAwaitingReply
	}
	return s.state
}

// Notifications returns the ordered notification stream. The channel
// closes after the final Exit notification is delivered.
func (s *Session) Notifications() <-chan Notification {
	return s.out
}

// Send writes a command and blocks until its reply block resolves,
// the context is cancelled, or the reply timeout fires. Commands are
// strictly serialized: a second Send queues behind the first.
func (s *Session) Send(ctx context.Context, cmd string) (Reply, error) {
	// The append to the pending FIFO and the transport write must not
	// interleave across goroutines: reply blocks arrive in wire order,
	// so the FIFO order has to match the write order exactly.
	s.wmu.Lock()
	s.mu.Lock()
	if s.state == StateExited || s.state == StateErrored || s.state == StateDetached {
		s.mu.Unlock()
		s.wmu.Unlock()
		return Reply{}, ErrDisconnected
	}
	p := &pendingCommand{text: cmd, done: make(chan replyResult, 1)}
	s.pending = append(s.pending, p)
	s.mu.Unlock()

	_, err := io.WriteString(s.transport, cmd+"\n")
	s.wmu.Unlock()
	if err != nil {
		s.resolveAbandoned(p, fmt.Errorf("%w: %v", ErrDisconnected, err))
		return Reply{}, fmt.Errorf("%w: %v", ErrDisconnected, err)
	}

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case res := <-p.done:
		s.mu.Lock()
		s.timeouts = 0
		s.mu.Unlock()
		return res.reply, res.err

	case <-ctx.Done():
		s.resolveAbandoned(p, ErrCancelled)
		return Reply{}, ErrCancelled

	case <-timer.C:
		s.resolveAbandoned(p, ErrTimeout)
		s.mu.Lock()
		s.timeouts++
		broken := s.timeouts >= maxConsecutiveTimeouts
		s.mu.Unlock()
		if broken {
			s.logger.Error("control session unresponsive, giving up", "timeouts", maxConsecutiveTimeouts)
			s.fail(StateErrored)
		}
		return Reply{}, ErrTimeout
	}
}

// resolveAbandoned marks a pending command abandoned so its eventual
// reply block is discarded without disturbing FIFO matching.
func (s *Session) resolveAbandoned(p *pendingCommand, err error) {
	s.mu.Lock()
	p.abandoned = true
	s.mu.Unlock()
	select {
	case p.done <- replyResult{err: err}:
	default:
	}
}

// Close detaches locally: the transport is closed, the reader drains
// out and pending commands resolve with ErrCancelled.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateConnecting || s.state == StateReady {
		s.state = StateDetached
	}
	s.mu.Unlock()
	var err error
	s.closeOnce.Do(func() {
		err = s.transport.Close()
	})
	return err
}

// fail moves the session into a terminal state and tears it down.
func (s *Session) fail(state State) {
	s.mu.Lock()
	if s.state != StateExited && s.state != StateErrored && s.state != StateDetached {
		s.state = state
	}
	s.mu.Unlock()
	s.closeOnce.Do(func() {
		_ = s.transport.Close()
	})
}

// readLoop frames the incoming stream line by line until EOF, then
// tears the session down and surfaces a final Exit.
func (s *Session) readLoop() {
	scanner := bufio.NewScanner(s.transport)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var (
		inBlock   bool
		blockNum  uint64
		blockBody []string
	)

	for scanner.Scan() {
		line := scanner.Text()

		if inBlock {
			marker, rest := cutToken(line)
			if marker == "%end" || marker == "%error" {
				bm, err := parseBlockMarker(marker[1:], rest)
				if err != nil {
					s.logger.Warn("malformed block marker", "line", line, "err", err)
					continue
				}
				if bm.num != blockNum {
					s.logger.Warn("reply block number mismatch", "want", blockNum, "got", bm.num)
				}
				s.finishBlock(marker == "%error", blockBody)
				inBlock = false
				blockBody = nil
				continue
			}
			blockBody = append(blockBody, line)
			continue
		}

		marker, rest := cutToken(line)
		switch marker {
		case "%begin":
			bm, err := parseBlockMarker("begin", rest)
			if err != nil {
				s.logger.Warn("malformed begin marker", "line", line, "err", err)
				continue
			}
			inBlock = true
			blockNum = bm.num
			blockBody = blockBody[:0]

		case "%end", "%error":
			// End marker without a begin aborts only the head command.
			s.logger.Warn("reply end without begin", "line", line)
			s.abortHead(fmt.Errorf("%w: %s without begin", ErrProtocol, marker))

		default:
			n, err := parseNotification(line)
			if err != nil {
				s.logger.Warn("skipping unparseable notification", "line", line, "err", err)
				continue
			}
			if n == nil {
				continue
			}
			s.deliver(n)
			if _, isExit := n.(Exit); isExit {
				s.finish(StateExited)
				return
			}
		}
	}

	if err := scanner.Err(); err != nil {
		s.logger.Debug("control transport read ended", "err", err)
	}
	// EOF without %exit: the remote went away. Synthesize the exit so
	// the consumer always sees exactly one terminal event.
	s.deliver(Exit{})
	s.finish(StateExited)
}

// deliver routes one notification through the flow-control gate into
// the ordered queue.
func (s *Session) deliver(n Notification) {
	s.mu.Lock()
	switch n.(type) {
	case Pause:
		s.pausing = true
		s.mu.Unlock()
		s.queue.push(n)
		return
	case Continue:
		held := s.held
		s.held = nil
		s.pausing = false
		s.mu.Unlock()
		for _, h := range held {
			s.queue.push(h)
		}
		s.queue.push(n)
		return
	}
	if s.pausing {
		s.held = append(s.held, n)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.queue.push(n)
}

// finish resolves all pending commands as cancelled, releases any
// held notifications and closes the queue.
func (s *Session) finish(state State) {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	held := s.held
	s.held = nil
	s.pausing = false
	if s.state != StateDetached && s.state != StateErrored {
		s.state = state
	}
	s.mu.Unlock()

	for _, p := range pending {
		select {
		case p.done <- replyResult{err: ErrCancelled}:
		default:
		}
	}
	for _, h := range held {
		s.queue.push(h)
	}
	s.queue.close()
	s.closeOnce.Do(func() {
		_ = s.transport.Close()
	})
}

// finishBlock resolves the head pending command with the accumulated
// reply body. Blocks with no pending command are the connection
// greeting (first) or stray replies (logged, dropped).
func (s *Session) finishBlock(isErr bool, body []string) {
	s.mu.Lock()
	if len(s.pending) == 0 {
		if !s.greeted {
			s.greeted = true
			if s.state == StateConnecting {
				s.state = StateReady
			}
		} else {
			s.logger.Warn("reply block with no pending command")
		}
		s.mu.Unlock()
		return
	}
	p := s.pending[0]
	s.pending = s.pending[1:]
	abandoned := p.abandoned
	s.mu.Unlock()

	if abandoned {
		return
	}
	lines := make([]string, len(body))
	copy(lines, body)
	res := replyResult{reply: Reply{Lines: lines}}
	if isErr {
		res.err = fmt.Errorf("%w: %s", ErrCommandFailed, joinLines(lines))
	}
	select {
	case p.done <- res:
	default:
	}
}

// abortHead fails the head pending command after a framing error.
func (s *Session) abortHead(err error) {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return
	}
	p := s.pending[0]
	s.pending = s.pending[1:]
	s.mu.Unlock()
	select {
	case p.done <- replyResult{err: err}:
	default:
	}
}

func joinLines(lines []string) string {
	switch len(lines) {
	case 0:
		return ""
	case 1:
		return lines[0]
	}
	out := lines[0]
	for _, l := range lines[1:] {
		out += "; " + l
	}
	return out
}

// dispatch moves queued notifications to the consumer channel,
// preserving order, then closes the channel.
func (s *Session) dispatch() {
	for {
		n, ok := s.queue.pop()
		if !ok {
			close(s.out)
			return
		}
		s.out <- n
	}
}

// notifyQueue is an unbounded FIFO for notifications. The reader
// pushes without ever blocking on the consumer.
type notifyQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []Notification
	closed bool
}

func newNotifyQueue() *notifyQueue {
	q := &notifyQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *notifyQueue) push(n Notification) {
	q.mu.Lock()
	if !q.closed {
		q.items = append(q.items, n)
	}
	q.mu.Unlock()
	q.cond.Signal()
}

// pop blocks until an item or close. It reports ok=false only after
// the queue is closed and drained.
func (q *notifyQueue) pop() (Notification, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}
	n := q.items[0]
	q.items = q.items[1:]
	return n, true
}

func (q *notifyQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}
