package httplog

import (
	"sync"
	"time"

	"kftray-core/internal/core"
)

// EnableMap is the process-wide `configId -> bool` gate for whether HTTP
// logging is turned on for a given forward. The supervisor reads it once
// when a forward starts; a later Set does not change a forward that is
// already running. Guarded by a single RWMutex behind this small façade.
type EnableMap struct {
	mu      sync.RWMutex
	enabled map[int64]bool
}

func NewEnableMap() *EnableMap {
	return &EnableMap{enabled: make(map[int64]bool)}
}

func (m *EnableMap) Set(configID int64, on bool) {
	m.mu.Lock()
	m.enabled[configID] = on
	m.mu.Unlock()
}

func (m *EnableMap) Enabled(configID int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled[configID]
}

// Pipeline is one forward's C3 instance: a pair of connStream parsers (one
// per direction), a pending-trace FIFO, a bounded Queue and the Writer
// task that drains it.
type Pipeline struct {
	configID int64
	req      connStream
	resp     connStream

	mu      sync.Mutex
	pending []pendingTrace

	queue  *Queue
	writer *Writer

	flushInterval time.Duration
	stop          chan struct{}
	done          chan struct{}
}

type pendingTrace struct {
	traceID string
	ts      time.Time
	reqText string
}

func NewPipeline(configID int64, queueCapacity int, flushInterval time.Duration, writer *Writer) *Pipeline {
	p := &Pipeline{
		configID:      configID,
		queue:         NewQueue(queueCapacity),
		writer:        writer,
		flushInterval: flushInterval,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	go p.drain()
	return p
}

// FeedRequest is called by C4's client->upstream copy loop with each
// chunk read off the wire.
func (p *Pipeline) FeedRequest(chunk []byte) {
	for _, r := range p.req.feedRequest(chunk) {
		p.mu.Lock()
		p.pending = append(p.pending, pendingTrace{traceID: r.TraceID, ts: time.Now(), reqText: r.Text})
		p.mu.Unlock()
		p.queue.Enqueue(core.LogMessage{Kind: core.LogRequest, ConfigID: p.configID, Text: r.Text})
	}
}

// FeedResponse is called by C4's upstream->client copy loop. Correlation
// is strict FIFO: the oldest pending trace is matched to each completed
// response in arrival order.
func (p *Pipeline) FeedResponse(chunk []byte) {
	for _, r := range p.resp.feedResponse(chunk) {
		p.mu.Lock()
		var trace pendingTrace
		if len(p.pending) > 0 {
			trace = p.pending[0]
			p.pending = p.pending[1:]
		}
		p.mu.Unlock()

		took := int64(0)
		if !trace.ts.IsZero() {
			took = time.Since(trace.ts).Milliseconds()
		}
		text := Transaction(trace.traceID, trace.ts, took, trace.reqText, r.Text)
		p.queue.Enqueue(core.LogMessage{Kind: core.LogPreformattedResponse, ConfigID: p.configID, Text: text})
	}
}

// Close flushes any trace left pending (a request with no matching
// response, logged as "pending") and stops the drain loop.
func (p *Pipeline) Close() {
	p.mu.Lock()
	for _, trace := range p.pending {
		p.queue.Enqueue(core.LogMessage{Kind: core.LogPreformattedResponse, ConfigID: p.configID, Text: PendingTransaction(trace.traceID, trace.ts, trace.reqText)})
	}
	p.pending = nil
	p.mu.Unlock()

	close(p.stop)
	<-p.done
	p.writer.Close()
}

func (p *Pipeline) drain() {
	defer close(p.done)
	ticker := time.NewTicker(p.flushInterval)
	defer ticker.Stop()
	sweep := time.NewTicker(time.Hour)
	defer sweep.Stop()

	for {
		select {
		case msg, ok := <-p.queue.Chan():
			if !ok {
				return
			}
			if msg.Kind == core.LogFlushTrigger {
				p.writer.Flush()
				continue
			}
			p.writer.Write(msg.Text)
		case <-ticker.C:
			p.queue.Enqueue(core.LogMessage{Kind: core.LogFlushTrigger, ConfigID: p.configID})
		case <-sweep.C:
			_ = SweepRetention(p.writer.cfg.Dir, p.writer.cfg.RetentionDays)
		case <-p.stop:
			// drain whatever is already queued before exiting.
			for {
				select {
				case msg := <-p.queue.Chan():
					if msg.Kind != core.LogFlushTrigger {
						p.writer.Write(msg.Text)
					}
				default:
					p.writer.Flush()
					return
				}
			}
		}
	}
}

// DroppedCount exposes the queue's overflow counter for health/metrics.
func (p *Pipeline) DroppedCount() int64 { return p.queue.Dropped() }
