package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"
)

// maxLineLen bounds a single protocol line. The longest legal line is a
// RESULT carrying the combined text, a number and a 64 character digest.
const maxLineLen = 4096

// LineConn reads and writes newline terminated lines on a net.Conn, arming
// a deadline before every operation.
type LineConn struct {
	conn    net.Conn
	r       *bufio.Reader
	timeout time.Duration
}

// NewLineConn wraps conn. A zero timeout disables deadlines.
func NewLineConn(conn net.Conn, timeout time.Duration) *LineConn {
	return &LineConn{
		conn:    conn,
		r:       bufio.NewReaderSize(conn, maxLineLen),
		timeout: timeout,
	}
}

// ReadLine returns the next line without its terminator. io.EOF is returned
// when the peer closed the connection between lines. A line longer than
// maxLineLen is discarded and reported as ErrMalformed.
func (c *LineConn) ReadLine() (string, error) {
	if c.timeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
			return "", err
		}
	}
	line, err := c.r.ReadSlice('\n')
	switch {
	case err == nil:
		return strings.TrimRight(string(line), "\r\n"), nil
	case errors.Is(err, bufio.ErrBufferFull):
		for errors.Is(err, bufio.ErrBufferFull) {
			_, err = c.r.ReadSlice('\n')
		}
		if err != nil {
			return "", err
		}
		return "", fmt.Errorf("%w: line exceeds %d bytes", ErrMalformed, maxLineLen)
	case errors.Is(err, io.EOF) && len(line) > 0:
		// final unterminated line
		return strings.TrimRight(string(line), "\r"), nil
	default:
		return "", err
	}
}

// WriteLine writes s followed by a newline.
func (c *LineConn) WriteLine(s string) error {
	if c.timeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
			return err
		}
	}
	_, err := c.conn.Write([]byte(s + "\n"))
	return err
}

// RemoteAddr returns the peer address.
func (c *LineConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// Close closes the underlying connection.
func (c *LineConn) Close() error {
	return c.conn.Close()
}
