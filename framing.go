package rlbridge

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net"
)

// frameTerminator delimits messages on the wire: UTF-8 JSON objects
// terminated by the form-feed byte (spec.md §4.2, §6).
const frameTerminator = 0x0C

// readChunkSize is the fixed chunk size used to refill the receive buffer;
// spec.md §4.2 notes 4 KiB is sufficient.
const readChunkSize = 4096

// errPeerClosed signals that a read returned zero bytes while a message was
// still incomplete — the transport-level "peer is gone" condition from
// spec.md §4.2.
var errPeerClosed = errors.New("rlbridge: peer closed connection")

// wireMessage is the envelope every protocol message shares (spec.md §6).
type wireMessage struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content"`
}

// framer multiplexes the length-delimited JSON protocol over one net.Conn.
// It is not safe for concurrent use from multiple goroutines — the bridge's
// single-threaded request/response discipline (spec.md §5) is the only
// caller.
type framer struct {
	conn      net.Conn
	chunkSize int
	buf       bytes.Buffer // unconsumed bytes read from conn, not yet split on a terminator
	pend      [][]byte     // complete messages already split out of buf, awaiting decode
}

func newFramer(conn net.Conn, chunkSize int) *framer {
	if chunkSize <= 0 {
		chunkSize = readChunkSize
	}
	return &framer{conn: conn, chunkSize: chunkSize}
}

// send marshals {type, content} and writes it followed by the terminator,
// returning the number of bytes put on the wire (including the terminator)
// for the caller's byte-throughput metric.
func (f *framer) send(msgType string, content any) (int64, error) {
	encoded, err := json.Marshal(content)
	if err != nil {
		return 0, err
	}
	msg := wireMessage{Type: msgType, Content: encoded}
	raw, err := json.Marshal(msg)
	if err != nil {
		return 0, err
	}
	if bytes.IndexByte(raw, frameTerminator) != -1 {
		return 0, newProtocolError("message contains a stray form-feed byte")
	}
	raw = append(raw, frameTerminator)
	n, err := f.conn.Write(raw)
	return int64(n), err
}

// recv blocks until one complete message is available, then decodes it,
// returning the number of raw bytes the message occupied on the wire
// (excluding the terminator) for the caller's byte-throughput metric.
func (f *framer) recv() (wireMessage, int64, error) {
	raw, err := f.nextMessage()
	if err != nil {
		return wireMessage{}, 0, err
	}
	var msg wireMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return wireMessage{}, 0, newProtocolError("malformed message: %v", err)
	}
	return msg, int64(len(raw)), nil
}

// nextMessage pops the next form-feed-delimited chunk, refilling from the
// socket in fixed-size reads until one is available.
func (f *framer) nextMessage() ([]byte, error) {
	if len(f.pend) > 0 {
		msg := f.pend[0]
		f.pend = f.pend[1:]
		return msg, nil
	}

	chunk := make([]byte, f.chunkSize)
	for {
		n, err := f.conn.Read(chunk)
		if n == 0 {
			if err == nil || err == io.EOF {
				return nil, errPeerClosed
			}
			return nil, err
		}
		f.buf.Write(chunk[:n])

		if msgs, rest, ok := splitMessages(f.buf.Bytes()); ok {
			f.buf.Reset()
			f.buf.Write(rest)
			f.pend = msgs
			msg := f.pend[0]
			f.pend = f.pend[1:]
			return msg, nil
		}

		if err != nil {
			if err == io.EOF {
				return nil, errPeerClosed
			}
			return nil, err
		}
	}
}

// splitMessages splits buf on the terminator byte. It returns ok=true once
// at least one complete message (terminator plus everything before it) is
// present, handing back every complete message found plus the trailing
// fragment (which may be empty) as rest.
func splitMessages(buf []byte) (msgs [][]byte, rest []byte, ok bool) {
	parts := bytes.Split(buf, []byte{frameTerminator})
	if len(parts) < 2 {
		return nil, buf, false
	}
	// parts[:-1] are complete messages; parts[len-1] is the unterminated tail.
	complete := parts[:len(parts)-1]
	out := make([][]byte, len(complete))
	copy(out, complete)
	return out, parts[len(parts)-1], true
}
