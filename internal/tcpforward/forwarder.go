// Package tcpforward is the TCP forwarder: it accepts
// local TCP connections, opens one API-server portforward stream per
// connection, and bidirectionally copies bytes, optionally tapping into
// the HTTP log pipeline.
package tcpforward

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"k8s.io/apimachinery/pkg/util/httpstream"

	"kftray-core/internal/core"
	"kftray-core/internal/kubeclient"
	"kftray-core/pkg/logging"
)

const (
	copyBufferSize = 128 * 1024
	idleTimeout    = 600 * time.Second
)

// HTTPTap is implemented by httplog.Pipeline; kept as an interface here so
// tcpforward does not import httplog directly (it is optional per
// config).
type HTTPTap interface {
	FeedRequest([]byte)
	FeedResponse([]byte)
	Close()
}

// Forwarder owns one listener and its accept loop for a single Config.
type Forwarder struct {
	client       *kubeclient.Client
	namespace    string
	target       core.TargetPod
	tap          HTTPTap
	touch        func()
	failureCount atomic.Int64

	listener net.Listener
}

// Start binds (localAddress, localPort), spawning an accept loop bound to
// ctx. If localPort is 0 the OS assigns one; the actual bound port is
// returned. touch, if not nil, is called once per accepted connection,
// resetting the forward's idle-disconnect timer.
func Start(ctx context.Context, client *kubeclient.Client, namespace string, target core.TargetPod, localAddress string, localPort uint16, tap HTTPTap, touch func()) (*Forwarder, uint16, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", localAddress, localPort))
	if err != nil {
		return nil, 0, &Error{Kind: NetworkError, Message: "failed to bind local listener", Err: err}
	}

	f := &Forwarder{client: client, namespace: namespace, target: target, tap: tap, touch: touch, listener: ln}
	boundPort := uint16(ln.Addr().(*net.TCPAddr).Port)

	go f.acceptLoop(ctx)
	return f, boundPort, nil
}

func (f *Forwarder) acceptLoop(ctx context.Context) {
	go func() {
		<-ctx.Done()
		f.listener.Close()
	}()

	for {
		conn, err := f.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logging.Warn("tcpforward", "accept failed, listener continues: %v", err)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		if f.touch != nil {
			f.touch()
		}
		go f.handleConn(ctx, conn)
	}
}

func (f *Forwarder) handleConn(ctx context.Context, clientConn net.Conn) {
	defer clientConn.Close()

	if tcpConn, ok := clientConn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}

	dstURL := f.client.PortForwardURL(f.namespace, f.target.PodName)
	dialer, err := f.client.Dialer(dstURL)
	if err != nil {
		f.failureCount.Add(1)
		logging.Error("tcpforward", err, "dial setup failed for pod %s", f.target.PodName)
		return
	}

	streamConn, _, err := dialer.Dial(kubeclient.PortForwardProtocolV1Name)
	if err != nil {
		f.failureCount.Add(1)
		logging.Error("tcpforward", &Error{Kind: StreamCreationFailed, Message: "dial portforward connection", Err: err}, "connection dropped")
		return
	}
	defer streamConn.Close()

	reqID := uuid.NewString()
	dataStream, errCh, err := kubeclient.CreateConnectionStream(streamConn, reqID, f.target.ContainerPort)
	if err != nil {
		f.failureCount.Add(1)
		logging.Error("tcpforward", err, "stream creation failed for pod %s", f.target.PodName)
		return
	}
	defer dataStream.Close()

	f.relay(ctx, clientConn, dataStream, errCh)
}

// relay runs the two copy tasks, each bound by a
// 600s idle timeout and cancellable from ctx.
func (f *Forwarder) relay(ctx context.Context, clientConn net.Conn, upstream httpstream.Stream, errCh <-chan error) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		defer cancel()
		f.copyLoop(connCtx, upstream, clientConn, f.tapRequest)
	}()
	go func() {
		defer wg.Done()
		defer cancel()
		f.copyLoop(connCtx, clientConn, upstream, f.tapResponse)
	}()

	go func() {
		select {
		case err, ok := <-errCh:
			if ok && err != nil {
				logging.Warn("tcpforward", "upstream error stream: %v", err)
			}
		case <-connCtx.Done():
		}
	}()

	wg.Wait()
}

func (f *Forwarder) tapRequest(b []byte) {
	if f.tap != nil {
		f.tap.FeedRequest(b)
	}
}

func (f *Forwarder) tapResponse(b []byte) {
	if f.tap != nil {
		f.tap.FeedResponse(b)
	}
}

type readResult struct {
	n   int
	err error
}

// copyLoop reads from src and writes to dst with a 128KiB buffer. A
// 600-second idle timeout closes the connection (not an error) when no
// bytes arrive; httpstream.Stream does not support SetReadDeadline, so the
// timeout is driven by a watchdog goroutine racing the blocking Read
// against ctx cancellation instead.
func (f *Forwarder) copyLoop(ctx context.Context, dst io.Writer, src io.Reader, tap func([]byte)) {
	buf := make([]byte, copyBufferSize)
	reads := make(chan readResult, 1)

	for {
		go func() {
			n, err := src.Read(buf)
			reads <- readResult{n, err}
		}()

		select {
		case <-ctx.Done():
			return
		case <-time.After(idleTimeout):
			logging.Debug("tcpforward", "idle timeout reached, closing connection")
			return
		case res := <-reads:
			if res.n > 0 {
				chunk := buf[:res.n]
				if tap != nil {
					tap(chunk)
				}
				if _, werr := dst.Write(chunk); werr != nil {
					return
				}
			}
			if res.err != nil {
				if res.err != io.EOF {
					logging.Debug("tcpforward", "copy loop ended: %v", res.err)
				}
				return
			}
		}
	}
}

// FailureCount is the "repeated upstream failures" counter the
// supervisor's health check observes.
func (f *Forwarder) FailureCount() int64 { return f.failureCount.Load() }

// Close stops accepting new connections.
func (f *Forwarder) Close() error { return f.listener.Close() }
