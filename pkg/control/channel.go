package control

import (
	"bytes"
	"encoding/json"
	"errors"

	"golang.org/x/sys/unix"

	"github.com/sshpilot/termbridge/pkg/interfaces"
)

// readChunk bounds a single read from the control descriptor. One
// readiness wakeup issues at most one read of this size.
const readChunk = 4096

// Channel reads control messages from an inherited descriptor. Reads
// are non-blocking; partial lines accumulate until a newline arrives.
// A malformed line is logged and discarded - it never poisons the
// stream. Once the peer closes the descriptor the channel reports
// Closed and stops producing messages.
type Channel struct {
	fd     int
	buf    []byte
	closed bool
	log    interfaces.Logger
}

// NewChannel wraps the given descriptor. The descriptor is switched to
// non-blocking mode; the channel owns it from here and closes it in
// Close.
func NewChannel(fd int, log interfaces.Logger) *Channel {
	if err := unix.SetNonblock(fd, true); err != nil {
		log.Debugf("failed to set control fd %d non-blocking: %v", fd, err)
	}
	return &Channel{fd: fd, log: log}
}

// Fd returns the underlying descriptor for readiness polling.
func (c *Channel) Fd() int {
	return c.fd
}

// Closed reports whether the peer end has gone away. A closed channel
// must be removed from the poll set.
func (c *Channel) Closed() bool {
	return c.closed
}

// ReadPending issues one bounded read and returns any complete messages
// decoded so far. It never blocks: with no data available it returns an
// empty slice.
func (c *Channel) ReadPending() []Message {
	if c.closed {
		return nil
	}

	chunk := make([]byte, readChunk)
	for {
		n, err := unix.Read(c.fd, chunk)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			if errors.Is(err, unix.EAGAIN) {
				return c.decodeLines()
			}
			c.log.Debugf("control fd read error: %v", err)
			c.closed = true
			return c.decodeLines()
		}
		if n == 0 {
			c.log.Debugf("control fd closed by peer")
			c.closed = true
			return c.decodeLines()
		}
		c.buf = append(c.buf, chunk[:n]...)
		return c.decodeLines()
	}
}

// decodeLines drains complete lines from the accumulator.
func (c *Channel) decodeLines() []Message {
	var msgs []Message
	for {
		idx := bytes.IndexByte(c.buf, '\n')
		if idx < 0 {
			return msgs
		}
		line := bytes.TrimSpace(c.buf[:idx])
		c.buf = c.buf[idx+1:]
		if len(line) == 0 {
			continue
		}

		var wire wireMessage
		if err := json.Unmarshal(line, &wire); err != nil {
			c.log.Warnf("invalid control message %q: %v", line, err)
			continue
		}

		switch wire.Type {
		case typeResize:
			if wire.Rows <= 0 || wire.Cols <= 0 {
				c.log.Debugf("invalid resize payload: rows=%d cols=%d", wire.Rows, wire.Cols)
				continue
			}
			msgs = append(msgs, Message{Type: MessageResize, Rows: wire.Rows, Cols: wire.Cols})
		default:
			msgs = append(msgs, Message{Type: MessageUnknown, RawType: wire.Type})
		}
	}
}

// Close releases the descriptor. Safe to call more than once.
func (c *Channel) Close() {
	if c.fd < 0 {
		return
	}
	if err := unix.Close(c.fd); err != nil {
		c.log.Debugf("control fd close: %v", err)
	}
	c.fd = -1
	c.closed = true
}
