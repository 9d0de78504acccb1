package grbl

import (
	"context"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/mastercactapus/pickplace/spjs"
)

var lastID int64

func nextID() string {
	id := atomic.AddInt64(&lastID, 1)
	return "cmd_" + strconv.FormatInt(id, 36)
}

// SPJSPort is a serial port on a serial-port-json-server, usable as the
// transport of a Conn. It opens the port whenever the server lists it
// closed.
type SPJSPort struct {
	sp   *spjs.Client
	port string
	baud int
	log  *zap.SugaredLogger

	r *io.PipeReader
	w *io.PipeWriter

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

var _ io.ReadWriteCloser = (*SPJSPort)(nil)

// NewSPJSPort attaches to port on sp. Closing the port closes sp.
func NewSPJSPort(sp *spjs.Client, port string, baud int, log *zap.SugaredLogger) *SPJSPort {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	r, w := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	p := &SPJSPort{
		sp:     sp,
		port:   port,
		baud:   baud,
		log:    log,
		r:      r,
		w:      w,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go p.loop()
	return p
}

func (p *SPJSPort) loop() {
	defer close(p.done)
	for {
		select {
		case <-p.ctx.Done():
			return
		case resp := <-p.sp.Messages():
			switch msg := resp.(type) {
			case *spjs.DataFrame:
				if msg.Port != p.port || msg.Data == "" {
					continue
				}
				data := msg.Data
				if !strings.HasSuffix(data, "\n") {
					data += "\n"
				}
				if _, err := io.WriteString(p.w, data); err != nil {
					return
				}
			case *spjs.SerialPortList:
				for _, port := range msg.SerialPorts {
					if port.Name != p.port || port.IsOpen {
						continue
					}
					cmd := "open " + p.port + " grbl " + strconv.Itoa(p.baud)
					if err := p.sp.WriteString(p.ctx, cmd); err != nil {
						p.log.Warnw("spjs open port", "port", p.port, "err", err)
					}
				}
			case *spjs.ErrorMessage:
				p.log.Errorw("spjs error", "port", p.port, "err", msg.Error)
			}
		}
	}
}

// Read returns data received from the port.
func (p *SPJSPort) Read(b []byte) (int, error) { return p.r.Read(b) }

// Write sends complete lines with sendjson. Anything else, such as a single
// realtime byte, goes out unbuffered with sendnobuf.
func (p *SPJSPort) Write(b []byte) (int, error) {
	s := string(b)
	if !strings.HasSuffix(s, "\n") {
		err := p.sp.WriteString(p.ctx, "sendnobuf "+p.port+" "+s)
		if err != nil {
			return 0, err
		}
		return len(b), nil
	}

	j := spjs.JSON{Port: p.port}
	for _, line := range strings.SplitAfter(s, "\n") {
		if line == "" {
			continue
		}
		j.Data = append(j.Data, spjs.Data{Data: line, ID: nextID()})
	}
	if err := p.sp.SendJSON(p.ctx, j); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (p *SPJSPort) Close() error {
	var err error
	p.once.Do(func() {
		p.cancel()
		p.r.Close()
		<-p.done
		p.w.Close()
		err = p.sp.Close()
	})
	return err
}
