package grbl

import (
	"bufio"
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const bufferSize = 128

// Realtime commands, written outside the line buffer.
const (
	StatusQuery = '?'
	FeedHold    = '!'
	SoftReset   = 0x18
)

// resetTimeout bounds the wait for the startup banner after a soft reset.
const resetTimeout = 2 * time.Second

// ErrGrblReset will be returned from write methods if a reset is encountered
// before all commands are run.
var ErrGrblReset = errors.New("grbl reset")

// ResponseError is an `error:` reply to a line.
type ResponseError struct {
	Line string
	Code string
}

func (e *ResponseError) Error() string {
	return "grbl: " + e.Line + ": error:" + e.Code
}

// Conn represents a direct connection to a Grbl controller.
//
// Lines are streamed with character counting: at most bufferSize bytes are
// unacknowledged at any time. Every line that is not an acknowledgement is
// passed to onLine from the read goroutine.
type Conn struct {
	rw     io.ReadWriter
	onLine func(string)
	log    *zap.SugaredLogger

	ackCh    chan error
	resetCh  chan struct{}
	closeCh  chan struct{}
	readDone chan struct{}
	readErr  error

	closeOnce sync.Once

	mx  sync.Mutex
	wMx sync.Mutex

	deviceBuf int
	pending   []string
}

// NewConn creates a new Conn using the provided ReadWriter for data and
// starts reading from it.
func NewConn(rw io.ReadWriter, onLine func(string), log *zap.SugaredLogger) *Conn {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	c := &Conn{
		rw:       rw,
		onLine:   onLine,
		log:      log,
		ackCh:    make(chan error, bufferSize),
		resetCh:  make(chan struct{}, 1),
		closeCh:  make(chan struct{}),
		readDone: make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Close will abort any in-progress writes and close the
// underlying ReadWriter, if it implements io.Closer.
func (c *Conn) Close() (err error) {
	c.closeOnce.Do(func() {
		close(c.closeCh)
		if closer, ok := c.rw.(io.Closer); ok {
			err = closer.Close()
		}
	})
	return err
}

func (c *Conn) readLoop() {
	defer close(c.readDone)
	scan := bufio.NewScanner(c.rw)
	for scan.Scan() {
		line := strings.TrimSpace(scan.Text())
		switch {
		case line == "":
			continue
		case line == "ok":
			c.ack(nil)
			continue
		case strings.HasPrefix(line, "error:"):
			c.ack(errors.New(strings.TrimSpace(strings.TrimPrefix(line, "error:"))))
			continue
		case strings.HasPrefix(line, "Grbl "):
			select {
			case c.resetCh <- struct{}{}:
			default:
			}
		}
		if c.onLine != nil {
			c.onLine(line)
		}
	}
	c.readErr = scan.Err()
	if c.readErr == nil {
		c.readErr = io.EOF
	}
}

func (c *Conn) ack(err error) {
	select {
	case c.ackCh <- err:
	default:
		c.log.Warnw("grbl acknowledgement dropped", "err", err)
	}
}

// flush forgets every outstanding line.
func (c *Conn) flush() {
	c.deviceBuf = 0
	c.pending = nil
	for {
		select {
		case <-c.ackCh:
		default:
			return
		}
	}
}

// abort stops the controller after a cancelled wait: feed hold, soft reset,
// then the startup banner.
func (c *Conn) abort() {
	err := c.WriteByte(FeedHold)
	if err == nil {
		err = c.WriteByte(SoftReset)
	}
	if err != nil {
		c.log.Errorw("grbl abort", "err", err)
		c.flush()
		return
	}
	select {
	case <-c.resetCh:
	case <-c.readDone:
	case <-c.closeCh:
	case <-time.After(resetTimeout):
		c.log.Warnw("no banner after soft reset", "timeout", resetTimeout)
	}
	c.flush()
}

// next waits for one acknowledgement.
func (c *Conn) next(ctx context.Context) error {
	select {
	case <-c.resetCh:
		c.flush()
		return ErrGrblReset
	default:
	}

	select {
	case <-ctx.Done():
		c.abort()
		return context.Cause(ctx)
	case <-c.closeCh:
		return io.ErrClosedPipe
	case <-c.readDone:
		c.flush()
		return errors.Wrap(c.readErr, "grbl: read")
	case <-c.resetCh:
		c.flush()
		return ErrGrblReset
	case e := <-c.ackCh:
		line := c.pending[0]
		c.deviceBuf -= len(line) + 1
		c.pending = c.pending[1:]
		if e != nil {
			return &ResponseError{Line: line, Code: e.Error()}
		}
		return nil
	}
}

func (c *Conn) waitForBufferSpace(ctx context.Context, n int) error {
	for len(c.pending) > 0 && c.deviceBuf+n > bufferSize {
		err := c.next(ctx)
		if err != nil {
			return err
		}
	}

	return nil
}

// writeLine will block until line has been written to the serial device in full.
func (c *Conn) writeLine(ctx context.Context, line string) error {
	n := len(line) + 1
	if n > bufferSize {
		return errors.Errorf("grbl: line too long (%d bytes)", n)
	}
	err := c.waitForBufferSpace(ctx, n)
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		if len(c.pending) > 0 {
			c.abort()
		}
		return context.Cause(ctx)
	}
	c.mx.Lock()
	_, err = io.WriteString(c.rw, line+"\n")
	c.mx.Unlock()
	if err != nil {
		return err
	}
	c.deviceBuf += n
	c.pending = append(c.pending, line)
	return nil
}

// Send streams lines and returns after all of them have been acknowledged.
// The first `error:` reply is returned once the rest are acknowledged.
//
// If ctx ends while waiting the controller is halted with a soft reset and
// the cause is returned.
func (c *Conn) Send(ctx context.Context, lines ...string) error {
	c.wMx.Lock()
	defer c.wMx.Unlock()
	select {
	case <-c.closeCh:
		return io.ErrClosedPipe
	default:
	}

	// nothing is outstanding, so an earlier banner cannot have dropped a line
	select {
	case <-c.resetCh:
	default:
	}

	var first error
	for _, line := range lines {
		err := c.writeLine(ctx, line)
		var resp *ResponseError
		if errors.As(err, &resp) {
			if first == nil {
				first = err
			}
			continue
		}
		if err != nil {
			c.flush()
			return err
		}
	}
	for len(c.pending) > 0 {
		err := c.next(ctx)
		var resp *ResponseError
		if errors.As(err, &resp) {
			if first == nil {
				first = err
			}
			continue
		}
		if err != nil {
			return err
		}
	}
	return first
}

// WriteByte will write directly to the serial device without
// accounting for buffering.
//
// Use for realtime commands like `?`.
func (c *Conn) WriteByte(p byte) (err error) {
	select {
	case <-c.closeCh:
		return io.ErrClosedPipe
	default:
	}
	c.mx.Lock()
	_, err = c.rw.Write([]byte{p})
	c.mx.Unlock()
	return err
}
