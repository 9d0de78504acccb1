// Package spjs is a client for serial-port-json-server, a websocket bridge
// to serial ports on another host.
package spjs

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("spjs: client closed")

type DataFrame struct {
	Port string `json:"P"`
	Data string `json:"D"`
}
type CmdStatus struct {
	Cmd        string
	QueueCount int `json:"QCnt"`
	Type       []string
	Data       []string `json:"D"`
	ID         string   `json:"Id"`
}

type ErrorMessage struct {
	Error string
}
type SerialPortList struct {
	SerialPorts []SerialPort
}
type SerialPort struct {
	Name            string
	Friendly        string
	IsOpen          bool
	Baud            int
	BufferAlgorithm string
}

// JSON is the argument of a sendjson command.
type JSON struct {
	Port string `json:"P"`
	Data []Data
}
type Data struct {
	Data string `json:"D"`
	ID   string `json:"Id"`
}

// Config configures a Client.
type Config struct {
	// InitialInterval is the first reconnect delay; later delays grow
	// exponentially up to MaxInterval.
	InitialInterval time.Duration
	MaxInterval     time.Duration

	Logger *zap.SugaredLogger
}

// Client keeps a websocket session to the server open, reconnecting with
// exponential backoff.
type Client struct {
	url string
	cfg Config
	log *zap.SugaredLogger

	outgoing chan message
	incoming chan interface{}

	cancel context.CancelFunc
	done   chan struct{}
}

type message struct {
	done    chan struct{}
	payload []byte
}

// New starts a client for url, e.g. ws://host:8989/ws.
func New(url string, cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 500 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		url:      url,
		cfg:      cfg,
		log:      cfg.Logger,
		outgoing: make(chan message, 1000),
		incoming: make(chan interface{}, 1000),
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	go c.loop(ctx)

	return c
}

// Messages delivers decoded server messages: *DataFrame, *CmdStatus,
// *SerialPortList or *ErrorMessage.
func (c *Client) Messages() <-chan interface{} {
	return c.incoming
}

// Close ends the session and stops reconnecting.
func (c *Client) Close() error {
	c.cancel()
	<-c.done
	return nil
}

func parseMessage(data []byte) (val interface{}, err error) {
	var msg map[string]json.RawMessage
	err = json.Unmarshal(data, &msg)
	if err != nil {
		return nil, err
	}
	check := func(fieldName string, v interface{}) bool {
		if msg[fieldName] == nil {
			return false
		}
		val = v
		err = json.Unmarshal(data, val)
		return true
	}
	if check("Error", &ErrorMessage{}) {
		return
	}
	if check("SerialPorts", &SerialPortList{}) {
		return
	}
	if check("Cmd", &CmdStatus{}) {
		return
	}
	if check("D", &DataFrame{}) {
		return
	}

	return nil, errors.New("unknown message: " + string(data))
}

func (c *Client) readLoop(ctx context.Context, ws *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.log.Warnw("spjs read", "err", err)
			}
			return
		}
		if !bytes.HasPrefix(data, []byte("{")) {
			// ignore echo messages
			continue
		}
		val, err := parseMessage(data)
		if err != nil {
			c.log.Debugw("spjs parse", "err", err)
			continue
		}
		select {
		case c.incoming <- val:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) loop(ctx context.Context) {
	defer close(c.done)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialInterval
	b.MaxInterval = c.cfg.MaxInterval
	b.MaxElapsedTime = 0
	bo := backoff.WithContext(b, ctx)

	var nextUp message
	for {
		err := c.session(ctx, b, &nextUp)
		if ctx.Err() != nil {
			return
		}
		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			return
		}
		c.log.Warnw("spjs disconnected", "url", c.url, "err", err, "retry", wait)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// session serves one connection. A message whose write failed is kept in
// nextUp and sent first on the next connection.
func (c *Client) session(ctx context.Context, b backoff.BackOff, nextUp *message) error {
	c.log.Infow("connecting", "url", c.url)
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return errors.Wrap(err, "connect")
	}
	b.Reset()
	c.log.Infow("connected", "url", c.url)

	readDone := make(chan struct{})
	go c.readLoop(ctx, ws, readDone)
	defer func() {
		ws.Close()
		<-readDone
	}()

	// refresh list on reconnect
	err = ws.WriteMessage(websocket.TextMessage, []byte("list"))
	if err != nil {
		return errors.Wrap(err, "send")
	}

	for {
		if nextUp.done != nil {
			err = ws.WriteMessage(websocket.TextMessage, nextUp.payload)
			if err != nil {
				return errors.Wrap(err, "send")
			}
			close(nextUp.done)
			nextUp.done = nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-readDone:
			return errors.New("connection closed")
		case *nextUp = <-c.outgoing:
		}
	}
}

func (c *Client) send(ctx context.Context, payload []byte) error {
	ch := make(chan struct{})
	select {
	case c.outgoing <- message{done: ch, payload: payload}:
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return context.Cause(ctx)
	}
	select {
	case <-ch:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

// SendJSON queues lines for a port with the sendjson command and returns
// once they are written to the websocket.
func (c *Client) SendJSON(ctx context.Context, v JSON) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "sendjson")
	}
	return c.send(ctx, append([]byte("sendjson "), data...))
}

// WriteString sends a raw server command such as "list".
func (c *Client) WriteString(ctx context.Context, data string) error {
	return c.send(ctx, []byte(data))
}
