package tunnel

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoff_CapsAt30Seconds(t *testing.T) {
	assert.Equal(t, 2*time.Second, backoff(1))
	assert.Equal(t, 4*time.Second, backoff(2))
	assert.Equal(t, 30*time.Second, backoff(10))
	assert.Equal(t, 30*time.Second, backoff(63))
	assert.Equal(t, 30*time.Second, backoff(100))
}

func TestHandleRequest_RoundTripsToLocalService(t *testing.T) {
	localSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/hello", r.URL.Path)
		w.Header().Set("X-Test", "yes")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("world"))
	}))
	defer localSrv.Close()

	localURL, err := url.Parse(localSrv.URL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(localURL.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	var upgrader websocket.Upgrader
	received := make(chan Message, 1)

	wsSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var msg Message
		require.NoError(t, json.Unmarshal(data, &msg))
		received <- msg
	}))
	defer wsSrv.Close()

	wsURL := "ws" + wsSrv.URL[len("http"):]
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	c := &Client{LocalAddress: host, LocalPort: uint16(port)}
	c.handleRequest(conn, Message{Type: TypeHTTPRequest, ID: "req-1", Method: http.MethodGet, Path: "/hello"})

	select {
	case msg := <-received:
		assert.Equal(t, TypeHTTPResponse, msg.Type)
		assert.Equal(t, "req-1", msg.ID)
		assert.Equal(t, http.StatusCreated, msg.Status)
		assert.Equal(t, "world", string(msg.Body))
		assert.Equal(t, "yes", msg.Headers["X-Test"])
	case <-time.After(3 * time.Second):
		t.Fatal("did not receive response message")
	}
}

func TestServe_CallsTouchOnDispatchedRequest(t *testing.T) {
	localSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer localSrv.Close()

	localURL, err := url.Parse(localSrv.URL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(localURL.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	var upgrader websocket.Upgrader
	wsSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		msg, _ := json.Marshal(Message{Type: TypeHTTPRequest, ID: "req-3", Method: http.MethodGet, Path: "/"})
		require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, msg))

		_, _, _ = conn.ReadMessage()
	}))
	defer wsSrv.Close()

	wsURL := "ws" + wsSrv.URL[len("http"):]
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	touched := make(chan struct{}, 1)
	c := &Client{LocalAddress: host, LocalPort: uint16(port), Touch: func() { touched <- struct{}{} }}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go c.serve(ctx, conn)

	select {
	case <-touched:
	case <-time.After(2 * time.Second):
		t.Fatal("expected Touch to be called for dispatched request")
	}
}

func TestHandleRequest_LocalServiceUnreachable(t *testing.T) {
	var upgrader websocket.Upgrader
	received := make(chan Message, 1)

	wsSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var msg Message
		require.NoError(t, json.Unmarshal(data, &msg))
		received <- msg
	}))
	defer wsSrv.Close()

	wsURL := "ws" + wsSrv.URL[len("http"):]
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	c := &Client{LocalAddress: "127.0.0.1", LocalPort: 1}
	c.handleRequest(conn, Message{Type: TypeHTTPRequest, ID: "req-2", Method: http.MethodGet, Path: "/"})

	select {
	case msg := <-received:
		assert.Equal(t, TypeError, msg.Type)
		assert.Equal(t, "req-2", msg.ID)
		assert.Contains(t, msg.Message, "unreachable")
	case <-time.After(3 * time.Second):
		t.Fatal("did not receive error message")
	}
}
