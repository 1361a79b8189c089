package kubeclient

import (
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/util/httpstream"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_PortForwardURL_ContainsPodAndSubresource(t *testing.T) {
	c := &Client{Clientset: fake.NewSimpleClientset()}
	u := c.PortForwardURL("default", "my-pod")

	assert.Contains(t, u.Path, "/namespaces/default/pods/my-pod/portforward")
}

// fakeStreamConn emulates an httpstream.Stream's actual SPDY semantics:
// Close() half-closes the local write side only, it never stops Reads
// already in flight from completing once the remote side finishes
// writing and closes its end of the pipe.
type fakeStreamConn struct {
	pr      *io.PipeReader
	headers http.Header
}

func (s *fakeStreamConn) Read(p []byte) (int, error)  { return s.pr.Read(p) }
func (s *fakeStreamConn) Write(p []byte) (int, error) { return len(p), nil }
func (s *fakeStreamConn) Close() error                { return nil }
func (s *fakeStreamConn) Reset() error                { return s.pr.Close() }
func (s *fakeStreamConn) Headers() http.Header        { return s.headers }
func (s *fakeStreamConn) Identifier() uint32          { return 0 }

type fakeConnection struct {
	mu      sync.Mutex
	streams []*fakeStreamConn
	peers   []*io.PipeWriter
}

func (f *fakeConnection) CreateStream(headers http.Header) (httpstream.Stream, error) {
	pr, pw := io.Pipe()
	f.mu.Lock()
	f.streams = append(f.streams, &fakeStreamConn{pr: pr, headers: headers.Clone()})
	f.peers = append(f.peers, pw)
	f.mu.Unlock()
	return f.streams[len(f.streams)-1], nil
}

func (f *fakeConnection) Close() error                  { return nil }
func (f *fakeConnection) CloseChan() <-chan bool         { return make(chan bool) }
func (f *fakeConnection) SetIdleTimeout(_ time.Duration) {}
func (f *fakeConnection) RemoveStreams(_ ...httpstream.Stream) {}

func TestCreateConnectionStream_SetsHeadersAndClosesErrorStream(t *testing.T) {
	conn := &fakeConnection{}

	dataStream, errCh, err := CreateConnectionStream(conn, "req-1", 8080)
	require.NoError(t, err)
	require.NotNil(t, dataStream)

	conn.mu.Lock()
	require.Len(t, conn.streams, 2)
	errHeaders := conn.streams[0].headers
	dataHeaders := conn.streams[1].headers
	conn.mu.Unlock()

	assert.Equal(t, corev1.StreamTypeError, errHeaders.Get(corev1.StreamType))
	assert.Equal(t, "8080", errHeaders.Get(corev1.PortHeader))
	assert.Equal(t, "req-1", errHeaders.Get(corev1.PortForwardRequestIDHeader))
	assert.Equal(t, corev1.StreamTypeData, dataHeaders.Get(corev1.StreamType))

	conn.peers[0].Close()

	select {
	case chanErr, ok := <-errCh:
		assert.False(t, ok)
		assert.NoError(t, chanErr)
	case <-time.After(time.Second):
		t.Fatal("expected errCh to close after the error stream closes with no message")
	}
}

func TestCreateConnectionStream_SurfacesErrorStreamMessage(t *testing.T) {
	conn := &fakeConnection{}

	_, errCh, err := CreateConnectionStream(conn, "req-2", 9090)
	require.NoError(t, err)

	conn.mu.Lock()
	peer := conn.peers[0]
	conn.mu.Unlock()

	_, werr := peer.Write([]byte("upstream unreachable"))
	require.NoError(t, werr)
	peer.Close()

	select {
	case chanErr := <-errCh:
		require.Error(t, chanErr)
		assert.Contains(t, chanErr.Error(), "upstream unreachable")
	case <-time.After(time.Second):
		t.Fatal("expected errCh to surface the written message")
	}
}

var _ io.ReadWriteCloser = (*fakeStreamConn)(nil)
