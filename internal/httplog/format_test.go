package httplog

import (
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatRequestBlock_IncludesMethodPathHeadersAndBody(t *testing.T) {
	req := &http.Request{
		Method: http.MethodPost,
		URL:    &url.URL{Path: "/items"},
		Header: http.Header{"X-Trace": {"abc"}},
	}
	text := formatRequestBlock(req, []byte("payload"))

	assert.Contains(t, text, "> POST /items HTTP/1.1")
	assert.Contains(t, text, "> X-Trace: abc")
	assert.Contains(t, text, "> payload")
}

func TestFormatResponseBlock_IncludesStatusHeadersAndBody(t *testing.T) {
	resp := &http.Response{
		Status: "404 Not Found",
		Header: http.Header{"Content-Type": {"text/plain"}},
	}
	text := formatResponseBlock(resp, []byte("missing"))

	assert.Contains(t, text, "< HTTP/1.1 404 Not Found")
	assert.Contains(t, text, "< Content-Type: text/plain")
	assert.Contains(t, text, "< missing")
}

func TestWritePrintableBody_SkipsBinaryPayloads(t *testing.T) {
	resp := &http.Response{Status: "200 OK", Header: http.Header{}}
	text := formatResponseBlock(resp, []byte{0xff, 0xfe, 0x00})
	assert.NotContains(t, text, string(rune(0xff)))
}

func TestTransaction_JoinsRequestAndResponseWithBanner(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	text := Transaction("trace-1", ts, 42, "> req\n", "< resp\n")

	assert.Contains(t, text, "trace=trace-1")
	assert.Contains(t, text, "took=42ms")
	assert.Contains(t, text, "> req")
	assert.Contains(t, text, "< resp")
}

func TestPendingTransaction_MarksTookAsPending(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	text := PendingTransaction("trace-2", ts, "> req\n")

	assert.Contains(t, text, "trace=trace-2")
	assert.Contains(t, text, "took=pending")
	assert.Contains(t, text, "> req")
}
