package httplog

import (
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

// formatRequestBlock renders the "> ..." half of a transaction record.
func formatRequestBlock(req *http.Request, body []byte) string {
	var b strings.Builder
	fmt.Fprintf(&b, "> %s %s HTTP/1.1\n", req.Method, req.URL.RequestURI())
	for name, values := range req.Header {
		for _, v := range values {
			fmt.Fprintf(&b, "> %s: %s\n", name, v)
		}
	}
	b.WriteString(">\n")
	writePrintableBody(&b, body, ">")
	return b.String()
}

// formatResponseBlock renders the "< ..." half.
func formatResponseBlock(resp *http.Response, body []byte) string {
	var b strings.Builder
	fmt.Fprintf(&b, "< HTTP/1.1 %s\n", resp.Status)
	for name, values := range resp.Header {
		for _, v := range values {
			fmt.Fprintf(&b, "< %s: %s\n", name, v)
		}
	}
	b.WriteString("<\n")
	writePrintableBody(&b, body, "<")
	return b.String()
}

func writePrintableBody(b *strings.Builder, body []byte, prefix string) {
	if len(body) == 0 || !utf8.Valid(body) {
		return
	}
	for _, line := range strings.Split(strings.TrimRight(string(body), "\n"), "\n") {
		fmt.Fprintf(b, "%s %s\n", prefix, line)
	}
}

// Transaction joins a resolved request/response pair into the full
// record, with a banner line.
func Transaction(traceID string, ts time.Time, tookMillis int64, requestText, responseText string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "────── %s trace=%s took=%dms ──────\n", ts.Format(time.RFC3339), traceID, tookMillis)
	b.WriteString(requestText)
	b.WriteString(responseText)
	return b.String()
}

// PendingTransaction renders a request that closed before any response
// arrived.
func PendingTransaction(traceID string, ts time.Time, requestText string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "────── %s trace=%s took=pending ──────\n", ts.Format(time.RFC3339), traceID)
	b.WriteString(requestText)
	return b.String()
}
