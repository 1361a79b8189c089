package kubeclient

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/util/httpstream"
	"k8s.io/client-go/tools/portforward"
	"k8s.io/client-go/transport/spdy"
)

// PortForwardProtocolV1Name is the SPDY/websocket sub-protocol name the
// API server speaks for the portforward subresource.
const PortForwardProtocolV1Name = "portforward.k8s.io"

// PortForwardURL builds the portforward subresource URL for a pod, the
// same request shape used by every C4/C5/C6 dial.
func (c *Client) PortForwardURL(namespace, podName string) *url.URL {
	return c.Clientset.CoreV1().RESTClient().Post().
		Resource("pods").
		Namespace(namespace).
		Name(podName).
		SubResource("portforward").
		URL()
}

// Dialer builds an httpstream.Dialer for a portforward URL, preferring the
// websocket-tunneled transport with a fallback to SPDY, mirroring
// kubectl's own fallback logic.
func (c *Client) Dialer(dstURL *url.URL) (httpstream.Dialer, error) {
	transport, upgrader, err := spdy.RoundTripperFor(c.RESTConfig)
	if err != nil {
		return nil, newErr(ConnectionError, "failed to build SPDY round tripper", err)
	}
	spdyDialer := spdy.NewDialer(upgrader, &http.Client{Transport: transport}, http.MethodPost, dstURL)

	tunnelDialer, err := portforward.NewSPDYOverWebsocketDialer(dstURL, c.RESTConfig)
	if err != nil {
		// websocket tunneling is a best-effort upgrade; fall back to plain SPDY.
		return spdyDialer, nil
	}

	return portforward.NewFallbackDialer(tunnelDialer, spdyDialer, func(err error) bool {
		return httpstream.IsUpgradeFailure(err) || httpstream.IsHTTPSProxyError(err)
	}), nil
}

// CreateConnectionStream opens one error+data stream pair on conn for
// containerPort, the per-connection primitive used by C4's accept loop
// and C5's single long-lived relay stream.
func CreateConnectionStream(conn httpstream.Connection, reqID string, containerPort int32) (httpstream.Stream, <-chan error, error) {
	headers := http.Header{}
	headers.Set(corev1.StreamType, corev1.StreamTypeError)
	headers.Set(corev1.PortHeader, strconv.Itoa(int(containerPort)))
	headers.Set(corev1.PortForwardRequestIDHeader, reqID)
	errStream, err := conn.CreateStream(headers)
	if err != nil {
		return nil, nil, newErr(ConnectionError, "create error stream", err)
	}
	_ = errStream.Close()

	headers.Set(corev1.StreamType, corev1.StreamTypeData)
	dataStream, err := conn.CreateStream(headers)
	if err != nil {
		return nil, nil, newErr(ConnectionError, "create data stream", err)
	}

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		message, err := io.ReadAll(errStream)
		switch {
		case err != nil:
			errCh <- fmt.Errorf("reading error stream: %w", err)
		case len(message) > 0:
			errCh <- fmt.Errorf("forwarding error: %s", string(message))
		}
	}()

	return dataStream, errCh, nil
}
