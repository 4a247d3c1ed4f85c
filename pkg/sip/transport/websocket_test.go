package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sipServer тестовый WebSocket сервер: отвечает 200 OK на каждый запрос
type sipServer struct {
	srv      *httptest.Server
	conns    chan *websocket.Conn
	protocol chan string
}

func newSIPServer(t *testing.T) *sipServer {
	t.Helper()
	s := &sipServer{
		conns:    make(chan *websocket.Conn, 4),
		protocol: make(chan string, 4),
	}
	upgrader := websocket.Upgrader{Subprotocols: []string{Subprotocol}}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.protocol <- c.Subprotocol()
		s.conns <- c
		parser := sip.NewParser()
		for {
			_, data, err := c.ReadMessage()
			if err != nil {
				return
			}
			msg, err := parser.ParseSIP(data)
			if err != nil {
				continue
			}
			if req, ok := msg.(*sip.Request); ok {
				res := sip.NewResponseFromRequest(req, 200, "OK", nil)
				_ = c.WriteMessage(websocket.TextMessage, []byte(res.String()))
			}
		}
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *sipServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func testRequest() *sip.Request {
	req := sip.NewRequest(sip.OPTIONS, sip.Uri{Scheme: "sip", Host: "pbx.example"})
	req.AppendHeader(&sip.ViaHeader{
		ProtocolName: "SIP", ProtocolVersion: "2.0", Transport: "WS", Host: "abc.invalid",
		Params: sip.NewParams().Add("branch", sip.GenerateBranch()),
	})
	req.AppendHeader(&sip.FromHeader{Address: sip.Uri{Scheme: "sip", User: "7000", Host: "pbx.example"}, Params: sip.NewParams().Add("tag", "t1")})
	req.AppendHeader(&sip.ToHeader{Address: sip.Uri{Scheme: "sip", Host: "pbx.example"}, Params: sip.NewParams()})
	callID := sip.CallIDHeader("ws-test")
	req.AppendHeader(&callID)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: 1, MethodName: sip.OPTIONS})
	req.SetBody(nil)
	return req
}

func TestWebSocket_SendReceive(t *testing.T) {
	server := newSIPServer(t)

	ws, err := NewWebSocket(WebSocketConfig{URL: server.url()})
	require.NoError(t, err)
	assert.Equal(t, "WS", ws.Protocol())

	received := make(chan sip.Message, 1)
	ws.OnMessage(func(msg sip.Message) { received <- msg })

	require.NoError(t, ws.Connect(context.Background()))
	defer ws.Close()

	assert.Equal(t, Subprotocol, <-server.protocol)

	require.NoError(t, ws.Send(testRequest()))

	select {
	case msg := <-received:
		res, ok := msg.(*sip.Response)
		require.True(t, ok)
		assert.Equal(t, 200, res.StatusCode)
		assert.Equal(t, "ws-test", res.CallID().Value())
	case <-time.After(2 * time.Second):
		t.Fatal("ответ не получен")
	}
}

func TestWebSocket_RemoteCloseReported(t *testing.T) {
	server := newSIPServer(t)

	ws, err := NewWebSocket(WebSocketConfig{URL: server.url()})
	require.NoError(t, err)

	closed := make(chan error, 1)
	ws.OnClose(func(err error) { closed <- err })
	require.NoError(t, ws.Connect(context.Background()))

	conn := <-server.conns
	require.NoError(t, conn.Close())

	select {
	case err := <-closed:
		var te *TransportError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, "read", te.Operation)
	case <-time.After(2 * time.Second):
		t.Fatal("потеря соединения не обнаружена")
	}

	err = ws.Send(testRequest())
	assert.ErrorIs(t, err, ErrTransportClosed)

	// после потери можно подключиться снова
	require.NoError(t, ws.Connect(context.Background()))
	require.NoError(t, ws.Close())
}

func TestWebSocket_LocalCloseNotReported(t *testing.T) {
	server := newSIPServer(t)

	ws, err := NewWebSocket(WebSocketConfig{URL: server.url()})
	require.NoError(t, err)

	closed := make(chan error, 1)
	ws.OnClose(func(err error) { closed <- err })
	require.NoError(t, ws.Connect(context.Background()))

	err = ws.Connect(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyConnected)

	require.NoError(t, ws.Close())
	require.NoError(t, ws.Close())

	select {
	case err := <-closed:
		t.Fatalf("неожиданный CloseHandler: %v", err)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWebSocket_DialFailure(t *testing.T) {
	server := newSIPServer(t)
	url := server.url()
	server.srv.Close()

	ws, err := NewWebSocket(WebSocketConfig{URL: url, HandshakeTimeout: time.Second})
	require.NoError(t, err)

	err = ws.Connect(context.Background())
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "dial", te.Operation)
}

func TestNewWebSocket_InvalidURL(t *testing.T) {
	for _, u := range []string{"http://pbx.example", "pbx.example", "ws://", "://"} {
		_, err := NewWebSocket(WebSocketConfig{URL: u})
		assert.Error(t, err, u)
	}

	ws, err := NewWebSocket(WebSocketConfig{URL: "wss://pbx.example:7443/ws"})
	require.NoError(t, err)
	assert.Equal(t, "WSS", ws.Protocol())
}

func TestMock_RoundTrip(t *testing.T) {
	m := NewMock()
	got := make(chan sip.Message, 1)
	m.OnMessage(func(msg sip.Message) { got <- msg })

	assert.ErrorIs(t, m.Send(testRequest()), ErrTransportClosed)
	require.NoError(t, m.Connect(context.Background()))
	require.NoError(t, m.Send(testRequest()))

	req, err := m.WaitRequest(sip.OPTIONS, time.Second)
	require.NoError(t, err)
	require.NoError(t, m.Deliver(sip.NewResponseFromRequest(req, 200, "OK", nil)))

	res := (<-got).(*sip.Response)
	assert.Equal(t, 200, res.StatusCode)

	lost := make(chan error, 1)
	m.OnClose(func(err error) { lost <- err })
	m.Drop(nil)
	assert.Error(t, <-lost)
	assert.False(t, m.Connected())
}
