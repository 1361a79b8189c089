// Package udpforward is the UDP forwarder. UDP cannot
// ride the API-server portforward directly, so datagrams from one local
// peer are multiplexed over a single TCP portforward stream to an
// in-cluster relay using 4-byte-length-prefixed framing, with two
// goroutines (one per direction) under mutual cancellation.
package udpforward

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"k8s.io/apimachinery/pkg/util/httpstream"

	"kftray-core/internal/core"
	"kftray-core/internal/kubeclient"
	"kftray-core/pkg/logging"
)

const maxDatagramSize = 128 * 1024

// Forwarder binds one local UDP socket and relays datagrams over one
// long-lived TCP portforward stream to the relay pod.
type Forwarder struct {
	conn  *net.UDPConn
	touch func()

	mu   sync.Mutex
	peer *net.UDPAddr
}

// Start binds (localAddress, localPort), dials the relay pod's TCP
// listener port, and launches the two multiplexer goroutines that
// copy datagrams in each direction. touch, if not nil, is called once
// per datagram received from the local peer, resetting the forward's
// idle-disconnect timer.
func Start(ctx context.Context, client *kubeclient.Client, namespace string, target core.TargetPod, localAddress string, localPort uint16, touch func()) (*Forwarder, uint16, error) {
	addr, err := net.ResolveUDPAddr("udp", localAddress+":"+portStr(localPort))
	if err != nil {
		return nil, 0, err
	}
	udpConn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, 0, err
	}
	boundPort := uint16(udpConn.LocalAddr().(*net.UDPAddr).Port)

	f := &Forwarder{conn: udpConn, touch: touch}

	dstURL := client.PortForwardURL(namespace, target.PodName)
	dialer, err := client.Dialer(dstURL)
	if err != nil {
		udpConn.Close()
		return nil, 0, err
	}
	streamConn, _, err := dialer.Dial(kubeclient.PortForwardProtocolV1Name)
	if err != nil {
		udpConn.Close()
		return nil, 0, err
	}

	reqID := uuid.NewString()
	dataStream, _, err := kubeclient.CreateConnectionStream(streamConn, reqID, target.ContainerPort)
	if err != nil {
		udpConn.Close()
		streamConn.Close()
		return nil, 0, err
	}

	relayCtx, cancel := context.WithCancel(ctx)
	go func() {
		<-relayCtx.Done()
		udpConn.Close()
		dataStream.Close()
		streamConn.Close()
	}()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer cancel()
		f.udpToTCP(relayCtx, dataStream)
	}()
	go func() {
		defer wg.Done()
		defer cancel()
		f.tcpToUDP(relayCtx, dataStream)
	}()

	return f, boundPort, nil
}

// udpToTCP is the UDP->TCP leg: for each datagram, write len||payload.
func (f *Forwarder) udpToTCP(ctx context.Context, upstream httpstream.Stream) {
	buf := make([]byte, maxDatagramSize)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, addr, err := f.conn.ReadFromUDP(buf)
		if err != nil {
			logging.Debug("udpforward", "udp read ended: %v", err)
			return
		}

		f.mu.Lock()
		f.peer = addr
		f.mu.Unlock()
		if f.touch != nil {
			f.touch()
		}

		var lenPrefix [4]byte
		binary.BigEndian.PutUint32(lenPrefix[:], uint32(n))
		if _, err := upstream.Write(lenPrefix[:]); err != nil {
			logging.Warn("udpforward", "write length prefix failed: %v", err)
			return
		}
		if _, err := upstream.Write(buf[:n]); err != nil {
			logging.Warn("udpforward", "write payload failed: %v", err)
			return
		}
	}
}

// tcpToUDP is the TCP->UDP leg: read a 4-byte length, then exactly that
// many bytes, and send to the known peer; drop with a logged warning if
// no peer has been seen yet.
func (f *Forwarder) tcpToUDP(ctx context.Context, upstream httpstream.Stream) {
	var lenPrefix [4]byte
	payload := make([]byte, maxDatagramSize)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if _, err := io.ReadFull(upstream, lenPrefix[:]); err != nil {
			logging.Debug("udpforward", "relay stream closed: %v", err)
			return
		}
		n := binary.BigEndian.Uint32(lenPrefix[:])
		if n > maxDatagramSize {
			logging.Warn("udpforward", "oversized frame %d, dropping connection", n)
			return
		}
		if _, err := io.ReadFull(upstream, payload[:n]); err != nil {
			logging.Debug("udpforward", "relay stream closed mid-frame: %v", err)
			return
		}

		f.mu.Lock()
		peer := f.peer
		f.mu.Unlock()

		if peer == nil {
			logging.Warn("udpforward", "dropping %d bytes: no peer registered yet", n)
			continue
		}
		if _, err := f.conn.WriteToUDP(payload[:n], peer); err != nil {
			logging.Warn("udpforward", "write to peer failed: %v", err)
		}
	}
}

func (f *Forwarder) Close() error { return f.conn.Close() }

func portStr(p uint16) string {
	return strconv.Itoa(int(p))
}
