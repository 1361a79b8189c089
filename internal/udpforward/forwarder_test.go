package udpforward

import (
	"context"
	"encoding/binary"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStream adapts a net.Conn to httpstream.Stream for tests that don't
// need a real API-server connection.
type fakeStream struct {
	net.Conn
}

func (fakeStream) Reset() error         { return nil }
func (fakeStream) Headers() http.Header { return http.Header{} }
func (fakeStream) Identifier() uint32   { return 0 }

func TestForwarder_UDPToTCP_FramesDatagram(t *testing.T) {
	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	defer udpConn.Close()

	streamSide, testSide := net.Pipe()
	defer streamSide.Close()
	defer testSide.Close()

	f := &Forwarder{conn: udpConn}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.udpToTCP(ctx, fakeStream{streamSide})

	clientConn, err := net.DialUDP("udp", nil, udpConn.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer clientConn.Close()

	payload := []byte("hello-udp")
	_, err = clientConn.Write(payload)
	require.NoError(t, err)

	testSide.SetReadDeadline(time.Now().Add(2 * time.Second))
	var lenPrefix [4]byte
	_, err = readFull(testSide, lenPrefix[:])
	require.NoError(t, err)
	n := binary.BigEndian.Uint32(lenPrefix[:])
	assert.Equal(t, uint32(len(payload)), n)

	got := make([]byte, n)
	_, err = readFull(testSide, got)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestForwarder_UDPToTCP_CallsTouchOnDatagram(t *testing.T) {
	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	defer udpConn.Close()

	streamSide, testSide := net.Pipe()
	defer streamSide.Close()
	defer testSide.Close()

	var touches int32
	f := &Forwarder{conn: udpConn, touch: func() { atomic.AddInt32(&touches, 1) }}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.udpToTCP(ctx, fakeStream{streamSide})

	clientConn, err := net.DialUDP("udp", nil, udpConn.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer clientConn.Close()

	_, err = clientConn.Write([]byte("ping"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&touches) >= 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestForwarder_TCPToUDP_DropsWhenNoPeerYet(t *testing.T) {
	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	defer udpConn.Close()

	streamSide, testSide := net.Pipe()
	defer streamSide.Close()

	f := &Forwarder{conn: udpConn}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.tcpToUDP(ctx, fakeStream{streamSide})

	payload := []byte("no-peer-registered")
	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(payload)))
	_, err = testSide.Write(lenPrefix[:])
	require.NoError(t, err)
	_, err = testSide.Write(payload)
	require.NoError(t, err)

	testSide.Close()
	time.Sleep(50 * time.Millisecond)
}

func TestForwarder_TCPToUDP_DeliversToKnownPeer(t *testing.T) {
	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	defer udpConn.Close()

	clientConn, err := net.DialUDP("udp", nil, udpConn.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer clientConn.Close()

	streamSide, testSide := net.Pipe()
	defer streamSide.Close()

	f := &Forwarder{conn: udpConn}
	f.peer = clientConn.LocalAddr().(*net.UDPAddr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.tcpToUDP(ctx, fakeStream{streamSide})

	payload := []byte("relay-to-peer")
	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(payload)))
	_, err = testSide.Write(lenPrefix[:])
	require.NoError(t, err)
	_, err = testSide.Write(payload)
	require.NoError(t, err)

	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 64)
	n, err := clientConn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, payload, buf[:n])
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func TestPortStr(t *testing.T) {
	assert.Equal(t, "8080", portStr(8080))
	assert.Equal(t, "0", portStr(0))
}
