package spjs

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMessage(t *testing.T) {
	v, err := parseMessage([]byte(`{"P":"/dev/ttyUSB0","D":"ok\n"}`))
	require.NoError(t, err)
	assert.Equal(t, &DataFrame{Port: "/dev/ttyUSB0", Data: "ok\n"}, v)

	v, err = parseMessage([]byte(`{"Cmd":"Complete","Id":"cmd_1","P":"/dev/ttyUSB0"}`))
	require.NoError(t, err)
	assert.Equal(t, "Complete", v.(*CmdStatus).Cmd)
	assert.Equal(t, "cmd_1", v.(*CmdStatus).ID)

	v, err = parseMessage([]byte(`{"SerialPorts":[{"Name":"COM3","IsOpen":true,"Baud":115200}]}`))
	require.NoError(t, err)
	assert.Equal(t, []SerialPort{{Name: "COM3", IsOpen: true, Baud: 115200}}, v.(*SerialPortList).SerialPorts)

	v, err = parseMessage([]byte(`{"Error":"port not open"}`))
	require.NoError(t, err)
	assert.Equal(t, "port not open", v.(*ErrorMessage).Error)

	_, err = parseMessage([]byte(`{"Version":"1.96"}`))
	assert.Error(t, err)
}

// fakeServer accepts websocket sessions and records every text message.
// The first dropFirst sessions are closed right after "list".
type fakeServer struct {
	srv       *httptest.Server
	received  chan string
	sessions  atomic.Int32
	dropFirst int32
}

func newFakeServer(t *testing.T, dropFirst int32) *fakeServer {
	t.Helper()
	f := &fakeServer{received: make(chan string, 100), dropFirst: dropFirst}
	up := websocket.Upgrader{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		n := f.sessions.Add(1)
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			msg := string(data)
			f.received <- msg
			if msg == "list" {
				if n <= f.dropFirst {
					return
				}
				_ = ws.WriteMessage(websocket.TextMessage, []byte(`{"SerialPorts":[{"Name":"/dev/ttyUSB0","IsOpen":false}]}`))
				continue
			}
			// echo, as the server does, then a data frame
			_ = ws.WriteMessage(websocket.TextMessage, data)
			_ = ws.WriteMessage(websocket.TextMessage, []byte(`{"P":"/dev/ttyUSB0","D":"ok"}`))
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

func (f *fakeServer) next(t *testing.T) string {
	t.Helper()
	select {
	case msg := <-f.received:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for message")
		return ""
	}
}

func nextMessage(t *testing.T, c *Client) interface{} {
	t.Helper()
	select {
	case v := <-c.Messages():
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for message")
		return nil
	}
}

func TestClient(t *testing.T) {
	f := newFakeServer(t, 0)
	c := New(f.url(), Config{})
	defer c.Close()

	assert.Equal(t, "list", f.next(t))
	list, ok := nextMessage(t, c).(*SerialPortList)
	require.True(t, ok)
	assert.Equal(t, "/dev/ttyUSB0", list.SerialPorts[0].Name)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := c.SendJSON(ctx, JSON{Port: "/dev/ttyUSB0", Data: []Data{{Data: "G0 X1\n", ID: "cmd_1"}}})
	require.NoError(t, err)
	assert.Equal(t, `sendjson {"P":"/dev/ttyUSB0","Data":[{"D":"G0 X1\n","Id":"cmd_1"}]}`, f.next(t))

	frame, ok := nextMessage(t, c).(*DataFrame)
	require.True(t, ok, "echo is skipped")
	assert.Equal(t, "ok", frame.Data)
}

func TestClient_Reconnect(t *testing.T) {
	f := newFakeServer(t, 1)
	c := New(f.url(), Config{InitialInterval: 10 * time.Millisecond, MaxInterval: 20 * time.Millisecond})
	defer c.Close()

	assert.Equal(t, "list", f.next(t))
	assert.Equal(t, "list", f.next(t), "list again after reconnecting")
	_, ok := nextMessage(t, c).(*SerialPortList)
	assert.True(t, ok)
	assert.EqualValues(t, 2, f.sessions.Load())
}

func TestClient_Closed(t *testing.T) {
	f := newFakeServer(t, 0)
	c := New(f.url(), Config{})
	require.NoError(t, c.Close())

	err := c.WriteString(context.Background(), "list")
	assert.ErrorIs(t, err, ErrClosed)
}
