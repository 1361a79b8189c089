package tunnel

import (
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStream emulates an httpstream.Stream over an in-process net.Conn
// pipe.
type fakeStream struct {
	net.Conn
}

func (fakeStream) Reset() error         { return nil }
func (fakeStream) Headers() http.Header { return http.Header{} }
func (fakeStream) Identifier() uint32   { return 0 }

var _ net.Conn = streamConn{}

func TestStreamConn_CarriesReadsAndWrites(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	sc := streamConn{fakeStream{a}}
	assert.Equal(t, "portforward", sc.LocalAddr().Network())
	assert.Equal(t, "portforward", sc.RemoteAddr().String())
	assert.NoError(t, sc.SetDeadline(time.Time{}))
	assert.NoError(t, sc.SetReadDeadline(time.Time{}))
	assert.NoError(t, sc.SetWriteDeadline(time.Time{}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 5)
		n, err := sc.Read(buf)
		require.NoError(t, err)
		assert.Equal(t, "hello", string(buf[:n]))
	}()

	_, err := b.Write([]byte("hello"))
	require.NoError(t, err)
	<-done
}
