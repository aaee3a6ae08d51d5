package reader

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"tagstream/internal/config"
	"tagstream/internal/metrics"
	"tagstream/internal/model"
)

// RouteFunc delivers a decoded read downstream. Implemented by the
// ingestion router; injectable so adapter tests need no router.
type RouteFunc func(ctx context.Context, read model.RawRead) bool

// Adapter owns the wire conversation with one fixed reader: dialing,
// heartbeat deadlines, reconnect backoff, and translation of frames into
// RawRead values carrying the reader's location binding.
type Adapter struct {
	reader config.ReaderConfig
	ingest config.IngestConfig
	route  RouteFunc
	status *metrics.StatusStore
	logger *slog.Logger

	dial func(ctx context.Context, addr string) (net.Conn, error)
	now  func() time.Time

	state       atomic.Value
	lastFrameAt atomic.Int64
	reconnects  atomic.Uint64
	dropped     atomic.Uint64
}

func NewAdapter(reader config.ReaderConfig, ingest config.IngestConfig, route RouteFunc, status *metrics.StatusStore, logger *slog.Logger) *Adapter {
	a := &Adapter{
		reader: reader,
		ingest: ingest,
		route:  route,
		status: status,
		logger: logger,
		now:    time.Now,
		dial: func(ctx context.Context, addr string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "tcp", addr)
		},
	}
	a.setState(model.ReaderConnecting)
	return a
}

// Run drives the session state machine until ctx is cancelled:
// CONNECTING -> CONNECTED -> (READING | DISCONNECTED) -> CONNECTING.
func (a *Adapter) Run(ctx context.Context) {
	buffered := make(chan model.RawRead, a.ingest.AdapterBuffer)
	go a.forward(ctx, buffered)

	backoff := a.ingest.ReconnectMin
	for {
		if ctx.Err() != nil {
			a.setState(model.ReaderStopped)
			return
		}
		a.setState(model.ReaderConnecting)
		conn, err := a.dial(ctx, a.reader.Addr)
		if err != nil {
			a.setState(model.ReaderDisconnected)
			if a.logger != nil {
				a.logger.Warn("reader dial failed", "reader_id", a.reader.ID, "addr", a.reader.Addr, "err", err, "retry_in", backoff)
			}
			if !sleep(ctx, backoff) {
				a.setState(model.ReaderStopped)
				return
			}
			backoff = nextBackoff(backoff, a.ingest.ReconnectMax)
			a.reconnects.Add(1)
			metrics.ReaderReconnects.WithLabelValues(a.reader.ID).Inc()
			continue
		}

		a.setState(model.ReaderConnected)
		if a.logger != nil {
			a.logger.Info("reader connected", "reader_id", a.reader.ID, "addr", a.reader.Addr)
		}
		backoff = a.ingest.ReconnectMin
		a.session(ctx, conn, buffered)
		_ = conn.Close()
		a.setState(model.ReaderDisconnected)
		if ctx.Err() != nil {
			a.setState(model.ReaderStopped)
			return
		}
		if a.logger != nil {
			a.logger.Warn("reader session ended, reconnecting", "reader_id", a.reader.ID)
		}
		a.reconnects.Add(1)
		metrics.ReaderReconnects.WithLabelValues(a.reader.ID).Inc()
		if !sleep(ctx, backoff) {
			a.setState(model.ReaderStopped)
			return
		}
	}
}

// session reads frames until the connection breaks or the heartbeat
// deadline passes with no traffic. No read is ever fabricated to cover a
// gap; a broken session simply surfaces as a reconnect.
func (a *Adapter) session(ctx context.Context, conn net.Conn, buffered chan model.RawRead) {
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 8192), 1024*1024)
	for {
		if a.ingest.HeartbeatDeadline > 0 {
			_ = conn.SetReadDeadline(a.now().Add(a.ingest.HeartbeatDeadline))
		}
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil && a.logger != nil && ctx.Err() == nil {
				a.logger.Warn("reader session error", "reader_id", a.reader.ID, "err", err)
			}
			return
		}
		a.markFrame()
		a.setState(model.ReaderReading)

		det, keepalive, err := DecodeFrame(scanner.Bytes())
		if err != nil {
			metrics.ReadsRejected.WithLabelValues("bad_frame").Inc()
			if a.logger != nil {
				a.logger.Debug("undecodable frame", "reader_id", a.reader.ID, "err", err)
			}
			continue
		}
		if keepalive {
			continue
		}
		read := model.RawRead{
			TagID:          det.TagID,
			ReaderID:       a.reader.ID,
			LocationID:     a.reader.LocationID,
			SignalStrength: det.Signal,
			ObservedAt:     det.ObservedAt,
		}
		a.buffer(buffered, read)
	}
}

// buffer enqueues into the adapter's bounded buffer, shedding the oldest
// read when full. Keep-alive handling must never stall on a slow router.
func (a *Adapter) buffer(buffered chan model.RawRead, read model.RawRead) {
	select {
	case buffered <- read:
		return
	default:
	}
	select {
	case <-buffered:
		a.dropped.Add(1)
		metrics.ReadsDropped.WithLabelValues("adapter").Inc()
	default:
	}
	select {
	case buffered <- read:
	default:
		a.dropped.Add(1)
		metrics.ReadsDropped.WithLabelValues("adapter").Inc()
	}
}

func (a *Adapter) forward(ctx context.Context, buffered <-chan model.RawRead) {
	for {
		select {
		case read := <-buffered:
			a.route(ctx, read)
		case <-ctx.Done():
			return
		}
	}
}

func (a *Adapter) markFrame() {
	a.lastFrameAt.Store(a.now().UnixNano())
}

func (a *Adapter) setState(st model.ReaderConnState) {
	a.state.Store(st)
	if a.status != nil {
		a.status.Update(a.Status())
	}
}

func (a *Adapter) State() model.ReaderConnState {
	if v := a.state.Load(); v != nil {
		return v.(model.ReaderConnState)
	}
	return model.ReaderConnecting
}

func (a *Adapter) Status() model.ReaderStatus {
	st := model.ReaderStatus{
		ReaderID:   a.reader.ID,
		LocationID: a.reader.LocationID,
		State:      a.State(),
		Reconnects: a.reconnects.Load(),
		Dropped:    a.dropped.Load(),
	}
	if ns := a.lastFrameAt.Load(); ns > 0 {
		st.LastFrameAt = time.Unix(0, ns).UTC()
	}
	return st
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
