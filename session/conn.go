package session

import (
	"bufio"
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"time"
)

// Conn is a line oriented chat connection.
type Conn interface {
	// WriteLine writes `line` followed by the line terminator and flushes.
	WriteLine(line string) error
	// Alive reports whether the connection is still usable as far as it
	// is known, i.e.: no read or write has failed yet.
	Alive() bool
	// Available returns the number of bytes ready to be read. It must not
	// block.
	Available() int
	// ReadLine returns the next line without its terminator. An incomplete
	// line is kept for the next call and an empty string is returned.
	ReadLine() (string, error)
	Close() error
}

// Dialer opens a Conn to `addr`.
type Dialer func(ctx context.Context, addr string) (Conn, error)

// DefaultPollTimeout bounds how long Available and ReadLine wait for bytes
// that are not in the socket yet.
const DefaultPollTimeout = time.Millisecond

// DialTCP returns a Dialer of plain TCP connections. A zero `timeout` means no
// timeout, the handshake can block for as long as the OS lets it.
func DialTCP(timeout, poll time.Duration) Dialer {
	return func(ctx context.Context, addr string) (Conn, error) {
		d := &net.Dialer{Timeout: timeout}
		c, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, err
		}
		return NewConn(c, poll), nil
	}
}

type netConn struct {
	c net.Conn
	r *bufio.Reader
	w *bufio.Writer

	poll    time.Duration
	alive   bool
	partial strings.Builder
}

func (c *netConn) WriteLine(line string) error {
	if _, err := c.w.WriteString(line + "\r\n"); err != nil {
		c.alive = false
		return err
	}
	if err := c.w.Flush(); err != nil {
		c.alive = false
		return err
	}
	return nil
}

func (c *netConn) Alive() bool {
	return c.alive
}

func (c *netConn) Available() int {
	if n := c.r.Buffered(); n > 0 {
		return n
	}
	if !c.alive {
		return 0
	}

	// An already expired deadline would fail before even trying the read, so
	// give the probe a tiny window instead.
	c.c.SetReadDeadline(time.Now().Add(c.poll))
	_, err := c.r.Peek(1)
	c.c.SetReadDeadline(time.Time{})
	if err != nil && !timeout(err) {
		c.alive = false
	}
	return c.r.Buffered()
}

func (c *netConn) ReadLine() (string, error) {
	c.c.SetReadDeadline(time.Now().Add(c.poll))
	chunk, err := c.r.ReadString('\n')
	c.c.SetReadDeadline(time.Time{})
	c.partial.WriteString(chunk)
	if err != nil {
		if timeout(err) {
			return "", nil
		}
		c.alive = false
		return "", err
	}

	line := strings.TrimRight(c.partial.String(), "\r\n")
	c.partial.Reset()
	return line, nil
}

func (c *netConn) Close() error {
	c.alive = false
	return c.c.Close()
}

func timeout(err error) bool {
	return errors.Is(err, os.ErrDeadlineExceeded)
}

// NewConn wraps `c` as a Conn. `poll` bounds the wait of each read probe,
// DefaultPollTimeout if zero.
func NewConn(c net.Conn, poll time.Duration) Conn {
	if poll <= 0 {
		poll = DefaultPollTimeout
	}
	return &netConn{
		c:     c,
		r:     bufio.NewReader(c),
		w:     bufio.NewWriter(c),
		poll:  poll,
		alive: true,
	}
}
