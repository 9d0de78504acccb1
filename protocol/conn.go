package protocol

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/mastercactapus/pickplace/fault"
)

// maxLine bounds one frame. Plans are a few hundred moves at most.
const maxLine = 1 << 20

// Conn is one session with the host: one JSON object per line in each
// direction. Reads and writes use the connect timeout as their deadline.
type Conn struct {
	c       net.Conn
	sc      *bufio.Scanner
	timeout time.Duration

	mx  sync.Mutex
	seq uint64
}

// Dial connects to the host at addr.
func Dial(ctx context.Context, addr string, timeout time.Duration) (*Conn, error) {
	d := net.Dialer{Timeout: timeout}
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fault.Wrap(fault.TransientIO, err, "connect "+addr)
	}
	return NewConn(c, timeout), nil
}

// NewConn wraps an established connection.
func NewConn(c net.Conn, timeout time.Duration) *Conn {
	sc := bufio.NewScanner(c)
	sc.Buffer(make([]byte, 0, 4096), maxLine)
	return &Conn{c: c, sc: sc, timeout: timeout}
}

func (c *Conn) deadline() time.Time {
	if c.timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(c.timeout)
}

// Marshal encodes v as one newline-terminated frame.
func Marshal(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Send writes v as one line.
func (c *Conn) Send(v interface{}) error {
	data, err := Marshal(v)
	if err != nil {
		return err
	}

	c.mx.Lock()
	defer c.mx.Unlock()
	if err := c.c.SetWriteDeadline(c.deadline()); err != nil {
		return fault.Wrap(fault.TransientIO, err, "send")
	}
	if _, err := c.c.Write(data); err != nil {
		return fault.Wrap(fault.TransientIO, err, "send")
	}
	c.seq++
	return nil
}

// Seq returns the number of frames sent.
func (c *Conn) Seq() uint64 {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.seq
}

// Hello introduces the client.
func (c *Conn) Hello(who string) error {
	return c.Send(Hello{Type: TypeHello, Who: who})
}

func (c *Conn) SendStatus(s Status) error { return c.Send(s) }

// ReadLine returns the next non-empty line.
func (c *Conn) ReadLine() ([]byte, error) {
	if err := c.c.SetReadDeadline(c.deadline()); err != nil {
		return nil, fault.Wrap(fault.TransientIO, err, "receive")
	}
	for c.sc.Scan() {
		if len(c.sc.Bytes()) > 0 {
			return c.sc.Bytes(), nil
		}
	}
	err := c.sc.Err()
	if err == nil {
		return nil, fault.New(fault.TransientIO, "connection closed by host")
	}
	return nil, fault.Wrap(fault.TransientIO, err, "receive")
}

// ReadPlan waits for the PLAN frame.
func (c *Conn) ReadPlan() (Plan, error) {
	line, err := c.ReadLine()
	if err != nil {
		return Plan{}, err
	}
	return ParsePlan(line)
}

func (c *Conn) Close() error { return c.c.Close() }
