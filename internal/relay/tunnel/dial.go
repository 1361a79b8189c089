package tunnel

import (
	"context"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"k8s.io/apimachinery/pkg/util/httpstream"

	"kftray-core/internal/kubeclient"
)

// streamConn adapts an httpstream.Stream to net.Conn so a websocket
// handshake can ride directly over the portforward stream, the same
// stream-creation primitive C4/C5 use for their own connections.
// Deadlines are not supported on the underlying stream and are no-ops.
type streamConn struct {
	httpstream.Stream
}

func (streamConn) LocalAddr() net.Addr              { return streamAddr{} }
func (streamConn) RemoteAddr() net.Addr             { return streamAddr{} }
func (streamConn) SetDeadline(time.Time) error      { return nil }
func (streamConn) SetReadDeadline(time.Time) error  { return nil }
func (streamConn) SetWriteDeadline(time.Time) error { return nil }

type streamAddr struct{}

func (streamAddr) Network() string { return "portforward" }
func (streamAddr) String() string  { return "portforward" }

// DialPortForward returns a Client.Dial function that opens a portforward
// stream to podName's containerPort and performs the websocket handshake
// over it, reaching the relay's ws endpoint without ever touching the
// node network directly.
func DialPortForward(client *kubeclient.Client, namespace, podName string, containerPort int32) func(ctx context.Context) (*websocket.Conn, error) {
	return func(ctx context.Context) (*websocket.Conn, error) {
		dstURL := client.PortForwardURL(namespace, podName)
		dialer, err := client.Dialer(dstURL)
		if err != nil {
			return nil, err
		}

		streamConnection, _, err := dialer.Dial(kubeclient.PortForwardProtocolV1Name)
		if err != nil {
			return nil, err
		}

		reqID := uuid.NewString()
		dataStream, _, err := kubeclient.CreateConnectionStream(streamConnection, reqID, containerPort)
		if err != nil {
			streamConnection.Close()
			return nil, err
		}

		wsURL := &url.URL{
			Scheme: "ws",
			Host:   net.JoinHostPort(podName+"."+namespace, strconv.Itoa(int(containerPort))),
			Path:   "/ws",
		}
		conn, _, err := websocket.NewClient(streamConn{dataStream}, wsURL, nil, 1024, 1024)
		if err != nil {
			dataStream.Close()
			streamConnection.Close()
			return nil, err
		}
		return conn, nil
	}
}
