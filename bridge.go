package rlbridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Bridge is the symmetric channel set + transport shared by the server and
// client roles described in spec.md §2–§4. The server constructs one with
// NewServerBridge and the client with NewClientBridge; from then on both
// sides drive the same Send/Recv/Close surface.
type Bridge struct {
	dir       string
	owner     bool // true on the server: owns the listening socket and backing-file cleanup
	sessionID string

	cfg *Config
	log *logrus.Entry

	mu       sync.Mutex
	channels map[string]Channel
	order    []string // insertion order, for deterministic description/update iteration

	listener *net.UnixListener
	conn     net.Conn
	fr       *framer

	closeOnce   sync.Once
	terminalErr error
}

func newBridge(dir string, owner bool, role string, opts []Option) *Bridge {
	cfg := applyConfig(opts)
	sessionID := newSessionID()
	return &Bridge{
		dir:       dir,
		owner:     owner,
		sessionID: sessionID,
		cfg:       cfg,
		log:       sessionLogger(cfg.logger, dir, sessionID, role),
		channels:  make(map[string]Channel),
	}
}

// NewServerBridge constructs the server-side half of a bridge rooted at
// rendezvous directory dir. The server owns the listening socket and the
// per-channel backing files.
func NewServerBridge(dir string, opts ...Option) *Bridge {
	return newBridge(dir, true, "server", opts)
}

// NewClientBridge constructs the client-side half of a bridge rooted at
// rendezvous directory dir.
func NewClientBridge(dir string, opts ...Option) *Bridge {
	return newBridge(dir, false, "client", opts)
}

// SessionID returns the correlation id this bridge instance stamps into its
// structured logs (SPEC_FULL.md §4.8).
func (b *Bridge) SessionID() string { return b.sessionID }

// AddChannel registers ch under name, binding it to its backing path
// D/<name>. Channel names are fixed for the lifetime of the connection
// (spec.md §3 invariants) — AddChannel may only be called before Listen/
// Connect.
func (b *Bridge) AddChannel(name string, ch Channel) (Channel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.channels[name]; exists {
		return nil, fmt.Errorf("rlbridge: duplicate channel %q", name)
	}
	if err := ch.BindBacking(filepath.Join(b.dir, name)); err != nil {
		return nil, err
	}
	b.channels[name] = ch
	b.order = append(b.order, name)
	return ch, nil
}

// WrapChannel maps an environment Space to a channel via Wrap and registers
// it under name (spec.md §6).
func (b *Bridge) WrapChannel(name string, space Space) (Channel, error) {
	ch, err := Wrap(name, space, b.owner)
	if err != nil {
		return nil, err
	}
	return b.AddChannel(name, ch)
}

// Channel looks up a registered channel by name.
func (b *Bridge) Channel(name string) (Channel, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.channels[name]
	return ch, ok
}

// sockPath returns the path of the rendezvous directory's listening socket.
func (b *Bridge) sockPath() string { return filepath.Join(b.dir, "sock") }

// Listen binds the server's listening socket at D/sock (spec.md §6). Must
// be called before Accept.
func (b *Bridge) Listen() error {
	addr, err := net.ResolveUnixAddr("unix", b.sockPath())
	if err != nil {
		return err
	}
	l, err := net.ListenUnix("unix", addr)
	if err != nil {
		return err
	}
	b.listener = l
	return nil
}

// errAcceptTimeout is returned by Accept when the listener's deadline
// elapses before a client connects.
var errAcceptTimeout = errors.New("rlbridge: accept timed out")

// IsTimeout reports whether err is a timeout signal from Accept or Recv.
func IsTimeout(err error) bool {
	if errors.Is(err, errAcceptTimeout) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}

// Accept waits (with an optional deadline) for the single client connection
// this rendezvous directory supports, then sends the description (spec.md
// §4.3). A zero deadline means no timeout.
func (b *Bridge) Accept(deadline time.Time) error {
	if err := b.listener.SetDeadline(deadline); err != nil {
		return err
	}
	conn, err := b.listener.Accept()
	if err != nil {
		if IsTimeout(err) {
			return errAcceptTimeout
		}
		return err
	}
	b.conn = conn
	b.fr = newFramer(conn, b.cfg.chunkSize)
	b.log.Info("accepted connection")
	return b.sendDescription()
}

func (b *Bridge) sendDescription() error {
	b.mu.Lock()
	desc := make(map[string]describeEntry, len(b.order))
	for _, name := range b.order {
		ch := b.channels[name]
		desc[name] = describeEntry{
			Kind:        ch.Kind(),
			Shape:       shapeOrNil(ch.ShapeDescriptor()),
			Annotations: ch.Annotations(),
		}
	}
	b.mu.Unlock()
	n, err := b.fr.send("description", desc)
	b.cfg.metrics.IncrementBytesSent(n)
	return err
}

func shapeOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Connect dials the rendezvous directory's socket once and, on success,
// consumes the description to build the client's channel set (spec.md
// §4.3, §4.7). errSockNotReady is returned when the socket does not yet
// exist, for the caller's retry/backoff loop to recognize.
var errSockNotReady = errors.New("rlbridge: rendezvous socket not ready")

func (b *Bridge) Connect() error {
	dialer := net.Dialer{Timeout: b.cfg.connectTimeout}
	conn, err := dialer.Dial("unix", b.sockPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return errSockNotReady
		}
		return err
	}
	b.conn = conn
	b.fr = newFramer(conn, b.cfg.chunkSize)

	msg, n, err := b.fr.recv()
	if err != nil {
		return err
	}
	b.cfg.metrics.IncrementBytesReceived(n)
	if msg.Type != "description" {
		return newProtocolError("expected description as first message, got %q", msg.Type)
	}
	var desc map[string]describeEntry
	if err := json.Unmarshal(msg.Content, &desc); err != nil {
		return newProtocolError("malformed description: %v", err)
	}
	if err := b.configureFromDescription(desc); err != nil {
		return err
	}
	b.log.Info("connected")
	return nil
}

func (b *Bridge) configureFromDescription(desc map[string]describeEntry) error {
	for name, entry := range desc {
		ch, err := channelFromDescription(name, entry, b.owner)
		if err != nil {
			return err
		}
		if _, err := b.AddChannel(name, ch); err != nil {
			return err
		}
	}
	return nil
}

func channelFromDescription(name string, entry describeEntry, owner bool) (Channel, error) {
	var ch Channel
	switch entry.Kind {
	case KindInt:
		ch = NewIntChannel(name)
	case KindFloat:
		ch = NewFloatChannel(name)
	case KindBool:
		ch = NewBoolChannel(name)
	case KindIntFold:
		if entry.Shape == nil {
			return nil, newProtocolError("int_fold channel %q missing shape descriptor", name)
		}
		folds, err := ParseFoldDescriptor(*entry.Shape)
		if err != nil {
			return nil, err
		}
		ch = NewIntFoldChannel(name, folds)
	case KindNp:
		if entry.Shape == nil {
			return nil, newProtocolError("np channel %q missing shape descriptor", name)
		}
		shape, dtypeCode, err := ParseNpDescriptor(*entry.Shape)
		if err != nil {
			return nil, err
		}
		np, err := NewNpChannel(name, shape, dtypeCode, owner)
		if err != nil {
			return nil, err
		}
		ch = np
	default:
		return nil, newProtocolError("channel %q has unrecognized kind %q", name, entry.Kind)
	}
	for k, v := range entry.Annotations {
		ch.Annotate(k, v)
	}
	return ch, nil
}

// Send transmits an update listing every dirty channel's serialized value,
// then clears their dirty flags (spec.md §4.4). If the write fails because
// the peer is gone, it drains any already-buffered incoming messages to
// surface a more specific close/exception before raising the terminal
// error.
func (b *Bridge) Send() error {
	if err := b.terminal(); err != nil {
		return err
	}

	b.mu.Lock()
	content := make(map[string]any)
	for _, name := range b.order {
		ch := b.channels[name]
		if !ch.Dirty() {
			continue
		}
		v, err := ch.Serialize()
		if err != nil {
			b.mu.Unlock()
			return err
		}
		content[name] = v
	}
	b.mu.Unlock()

	n, err := b.fr.send("update", content)
	if err != nil {
		cause := error(ErrClosed)
		if b.cfg.drainOnClose {
			cause = b.drainOnSendFailure()
		}
		_ = b.Close("", cause)
		return cause
	}
	b.cfg.metrics.IncrementMessagesSent()
	b.cfg.metrics.IncrementBytesSent(n)
	return nil
}

// drainOnSendFailure reads any messages already buffered from the peer,
// looking for a more specific close/exception to report instead of the
// generic closed error (spec.md §4.4).
func (b *Bridge) drainOnSendFailure() error {
	for {
		msg, n, err := b.fr.recv()
		if err != nil {
			return ErrClosed
		}
		b.cfg.metrics.IncrementBytesReceived(n)
		switch msg.Type {
		case "close":
			var c closeContent
			if jerr := json.Unmarshal(msg.Content, &c); jerr == nil && c.Exception != nil {
				cause := makeTaxonomyError(ErrorID(*c.Exception), derefStr(c.Reason))
				b.cfg.metrics.IncrementTaxonomyError(cause.(*TaxonomyError).ID())
				return cause
			}
			return ErrClosed
		case "exception":
			var c exceptionContent
			if jerr := json.Unmarshal(msg.Content, &c); jerr == nil {
				cause := makeTaxonomyError(ErrorID(c.Exception), derefStr(c.Reason))
				b.cfg.metrics.IncrementTaxonomyError(cause.(*TaxonomyError).ID())
				return cause
			}
			return ErrClosed
		default:
			continue // keep draining; an update frame tells us nothing about why the send failed
		}
	}
}

// Recv blocks until one complete message is available and dispatches it
// (spec.md §4.4). A peer that vanished mid-read is reported on the client
// side as ServerDisconnectError (after closing the bridge); on the server
// side it is returned as errPeerClosed for the stepping loop to map.
func (b *Bridge) Recv() error {
	if err := b.terminal(); err != nil {
		return err
	}

	msg, n, err := b.fr.recv()
	if err != nil {
		if errors.Is(err, errPeerClosed) && !b.owner {
			cause := NewServerDisconnectError("server disconnected mid-session")
			b.cfg.metrics.IncrementTaxonomyError(ErrIDServerDisconnect)
			_ = b.Close("server disconnected", cause)
			return cause
		}
		return err
	}
	b.cfg.metrics.IncrementMessagesReceived()
	b.cfg.metrics.IncrementBytesReceived(n)

	switch msg.Type {
	case "update":
		var content map[string]json.RawMessage
		if err := json.Unmarshal(msg.Content, &content); err != nil {
			return newProtocolError("malformed update: %v", err)
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		for name, raw := range content {
			ch, ok := b.channels[name]
			if !ok {
				return newProtocolError("update references unknown channel %q", name)
			}
			var v any
			if err := json.Unmarshal(raw, &v); err != nil {
				return newProtocolError("malformed payload for channel %q: %v", name, err)
			}
			if err := ch.Deserialize(v); err != nil {
				return err
			}
		}
		return nil

	case "close":
		var c closeContent
		if err := json.Unmarshal(msg.Content, &c); err != nil {
			return newProtocolError("malformed close: %v", err)
		}
		var cause error
		if c.Exception != nil {
			cause = makeTaxonomyError(ErrorID(*c.Exception), derefStr(c.Reason))
		} else {
			cause = NewGymRemoteError(derefStr(c.Reason))
		}
		if id, ok := errorIDOf(cause); ok {
			b.cfg.metrics.IncrementTaxonomyError(id)
		}
		_ = b.closeEcho(cause)
		return cause

	case "exception":
		var c exceptionContent
		if err := json.Unmarshal(msg.Content, &c); err != nil {
			return newProtocolError("malformed exception: %v", err)
		}
		cause := makeTaxonomyError(ErrorID(c.Exception), derefStr(c.Reason))
		if id, ok := errorIDOf(cause); ok {
			b.cfg.metrics.IncrementTaxonomyError(id)
		}
		return cause

	default:
		return newProtocolError("unexpected message type %q", msg.Type)
	}
}

// RaiseRemote sends a non-terminal exception message naming err's taxonomy
// id; the session continues (spec.md §4.4, §4.6).
func (b *Bridge) RaiseRemote(err error) error {
	id, _ := errorIDOf(err)
	b.cfg.metrics.IncrementTaxonomyError(id)
	n, sendErr := b.fr.send("exception", exceptionContent{Reason: strPtr(reasonOf(err)), Exception: int(id)})
	b.cfg.metrics.IncrementBytesSent(n)
	return sendErr
}

// Close attempts a best-effort close message, releases the socket, and — if
// this side owns the listening endpoint — unlinks D/sock and every D/<name>
// backing file. Calling Close twice is a no-op (spec.md §4.5).
func (b *Bridge) Close(reason string, cause error) error {
	return b.closeWith(reason, cause, true)
}

// closeEcho tears down the bridge after a peer-initiated close, without
// re-announcing the peer's own exception id back to it — the peer already
// knows why it closed.
func (b *Bridge) closeEcho(cause error) error {
	return b.closeWith("", cause, false)
}

func (b *Bridge) closeWith(reason string, cause error, announce bool) error {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		if cause != nil {
			b.terminalErr = cause
		} else {
			b.terminalErr = ErrClosed
		}
		names := append([]string(nil), b.order...)
		chans := make([]Channel, len(names))
		for i, n := range names {
			chans[i] = b.channels[n]
		}
		b.mu.Unlock()

		if b.fr != nil {
			content := closeContent{Reason: strPtr(reason)}
			if announce {
				if id, ok := errorIDOf(cause); ok {
					idVal := int(id)
					content.Exception = &idVal
				}
			}
			_, _ = b.fr.send("close", content) // best-effort; swallow transport failure
		}
		if b.conn != nil {
			_ = b.conn.Close()
		}
		if b.owner {
			if b.listener != nil {
				_ = b.listener.Close()
			}
			_ = os.Remove(b.sockPath())
			for _, name := range names {
				_ = os.Remove(filepath.Join(b.dir, name))
			}
		}
		for _, ch := range chans {
			_ = ch.Unbind()
		}
		b.log.WithField("reason", reason).Info("bridge closed")
	})
	return nil
}

// SetDeadline sets the read/write deadline on the underlying connection, for
// the server loop's per-iteration wall-clock budget (spec.md §4.6 step 2). A
// zero Time clears any deadline.
func (b *Bridge) SetDeadline(t time.Time) error {
	if b.conn == nil {
		return nil
	}
	return b.conn.SetDeadline(t)
}

func (b *Bridge) terminal() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.terminalErr
}
