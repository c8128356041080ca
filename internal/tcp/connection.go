package tcp

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/google/uuid"
)

// the buffer starts small and grows only when a peer sends faster than
// the script consumes
const (
	initialBufferSize = 8 * 1024 // 8KB initial receive buffer
	readChunkSize     = 4 * 1024 // at most 4KB per socket read
)

var (
	// ErrMismatch is matched by every *MismatchError.
	ErrMismatch = errors.New("messages do not match")
	// ErrConnectionReset means the peer closed while unconsumed bytes remained.
	ErrConnectionReset = errors.New("connection reset by peer")
	// ErrBufferLimit means the peer sent more unmatched data than allowed.
	ErrBufferLimit = errors.New("receive buffer limit exceeded")
	// ErrSendFailed wraps every write or flush failure.
	ErrSendFailed = errors.New("failed to send message")
)

// MismatchError carries the expected bytes and the bytes actually buffered.
type MismatchError struct {
	Expected []byte
	Received []byte
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%s: expected %x, received %x", ErrMismatch, e.Expected, e.Received)
}

func (e *MismatchError) Is(target error) bool {
	return target == ErrMismatch
}

// ConnectionOptions tunes the receive path of a Connection.
type ConnectionOptions struct {
	MaxBufferBytes int           // 0 means unbounded
	IdleTimeout    time.Duration // per read/write deadline, 0 means none
}

// Connection wraps one accepted socket with an incremental receive buffer
// that is matched byte-for-byte against expected messages, and a buffered
// writer that is flushed after every send.
type Connection struct {
	ID        string    // unique identifier = key in the manager map
	StartedAt time.Time // accept time, used to order status snapshots
	conn      net.Conn
	Writer    *bufio.Writer // buffered writer, flushed after every Send
	buffer    []byte        // received but not yet consumed bytes
	chunk     []byte        // scratch space reused by every read
	opts      ConnectionOptions
}

func NewConnection(conn net.Conn, opts ConnectionOptions) *Connection {
	return &Connection{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
		conn:      conn,
		Writer:    bufio.NewWriter(conn),
		buffer:    make([]byte, 0, initialBufferSize),
		chunk:     make([]byte, readChunkSize),
		opts:      opts,
	}
}

// RemoteAddr returns the peer address as a string.
func (c *Connection) RemoteAddr() string {
	if addr := c.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// Buffered returns a copy of the bytes received but not yet consumed.
func (c *Connection) Buffered() []byte {
	return append([]byte(nil), c.buffer...)
}

// CheckMatch compares the head of the buffer with expected.
// It returns (false, nil) while fewer than len(expected) bytes are buffered,
// (true, nil) after consuming a matching prefix, and a *MismatchError when
// the prefix differs. A mismatch leaves the buffer untouched.
func (c *Connection) CheckMatch(expected []byte) (bool, error) {
	n := len(expected)
	if len(c.buffer) < n {
		return false, nil
	}
	if !bytes.Equal(c.buffer[:n], expected) {
		return false, &MismatchError{
			Expected: expected,
			Received: append([]byte(nil), c.buffer[:n]...),
		}
	}
	c.Discard(n) // consume exactly the matched prefix, keep the rest
	return true, nil
}

// Discard drops up to n bytes from the head of the buffer.
func (c *Connection) Discard(n int) {
	if n > len(c.buffer) {
		n = len(c.buffer)
	}
	c.buffer = append(c.buffer[:0], c.buffer[n:]...) // shift in place, capacity is kept
}

// Fill performs one read from the socket into the buffer.
// It returns io.EOF when the peer closed with nothing buffered,
// ErrConnectionReset when it closed with unconsumed bytes and
// ErrBufferLimit once more than MaxBufferBytes are held unconsumed.
func (c *Connection) Fill() error {
	if c.opts.IdleTimeout > 0 {
		// deadline renewed on every read
		c.conn.SetReadDeadline(time.Now().Add(c.opts.IdleTimeout))
	}

	n, err := c.conn.Read(c.chunk)
	if n > 0 {
		c.buffer = append(c.buffer, c.chunk[:n]...)
		if c.opts.MaxBufferBytes > 0 && len(c.buffer) > c.opts.MaxBufferBytes {
			return fmt.Errorf("%w: %d bytes buffered, limit is %d", ErrBufferLimit, len(c.buffer), c.opts.MaxBufferBytes)
		}
		return nil
	}
	switch {
	case err == nil: // zero-byte read, try again
		return nil
	case errors.Is(err, io.EOF):
		if len(c.buffer) == 0 {
			return io.EOF
		}
		return fmt.Errorf("%w: %d bytes unconsumed", ErrConnectionReset, len(c.buffer))
	default:
		return fmt.Errorf("failed to read from connection: %w", err)
	}
}

// Recv reads until the buffer holds len(expected) bytes and matches them.
// It returns (len(expected), true, nil) on a match and (0, false, nil) when
// the peer closed cleanly before sending anything. Any other outcome is an
// error: *MismatchError, ErrConnectionReset, ErrBufferLimit or an I/O error.
func (c *Connection) Recv(expected []byte) (int, bool, error) {
	// a message larger than the cap can never be matched
	if c.opts.MaxBufferBytes > 0 && len(expected) > c.opts.MaxBufferBytes {
		return 0, false, fmt.Errorf("%w: message of %d bytes exceeds limit of %d", ErrBufferLimit, len(expected), c.opts.MaxBufferBytes)
	}
	for {
		matched, err := c.CheckMatch(expected)
		if err != nil {
			return 0, false, err
		}
		if matched {
			return len(expected), true, nil
		}

		if err := c.Fill(); err != nil {
			if errors.Is(err, io.EOF) {
				return 0, false, nil
			}
			return 0, false, err
		}
	}
}

// Send writes the whole payload and flushes it to the socket.
func (c *Connection) Send(payload []byte) error {
	if c.opts.IdleTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.opts.IdleTimeout))
	}
	if _, err := c.Writer.Write(payload); err != nil {
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	if err := c.Writer.Flush(); err != nil {
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	return nil
}

// Close closes the underlying socket.
func (c *Connection) Close() error {
	return c.conn.Close()
}
