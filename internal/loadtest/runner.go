// Package loadtest drives many concurrent ClientSessions against a
// running server, ramping connections at a configured rate and
// aggregating RtpStats snapshots. This is the teacher's entire reason
// for existing — wink-rtsp-bench is a load-testing harness — repointed
// from generic RTSP/AVP at this repository's own ServerSession/
// ClientSession pair.
//
// Grounded in _examples/winkmichael-wink-rtsp-bench's
// internal/bench/runner.go: the rate.Limiter-paced spawner, semaphore
// concurrency cap, adaptive rate backoff on elevated failure rate, and
// percentile latency tracking are kept structurally intact and
// rewritten against clientsession.Session instead of rtsp.Client.
//
// Created by WINK Streaming (https://www.wink.co)
package loadtest

import (
	"context"
	"fmt"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/streamlab/rtspmjpeg/internal/clientsession"
	"github.com/streamlab/rtspmjpeg/internal/faultclient"
	"github.com/streamlab/rtspmjpeg/internal/rtpstats"
)

// dialWithRetry mirrors the teacher's runConnection retry/backoff loop.
func dialWithRetry(ctx context.Context, addr string, maxRetries int) (net.Conn, error) {
	var lastErr error
	for retry := 0; retry < maxRetries; retry++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		time.Sleep(time.Duration(100*(1<<retry)) * time.Millisecond)
	}
	return nil, fmt.Errorf("dial %s: %w", addr, lastErr)
}

// Config holds load-test configuration.
type Config struct {
	Addr              string // server address, host:port
	Filename          string // media file every reader requests
	Readers           int
	Duration          time.Duration
	Rate              float64 // connections per second
	StatsInterval     time.Duration
	RealWorld         bool
	AvgConnections    int
	Variance          float64
	IncludeBadClients bool
	BadClientRatio    float64
}

// Runner orchestrates the load test.
type Runner struct {
	config     Config
	aggregator *rtpstats.Aggregator
	logger     zerolog.Logger

	activeConnects atomic.Int64
	totalConnects  atomic.Int64
	totalFailures  atomic.Int64
	connectLatency atomic.Int64
	connectCount   atomic.Int64
	badClients     atomic.Int64
	badClientTypes sync.Map

	latencies   []float64
	latenciesMu sync.Mutex
	minLatency  atomic.Int64
	maxLatency  atomic.Int64

	limiter   *rate.Limiter
	semaphore chan struct{}
	wg        sync.WaitGroup
}

// NewRunner builds a Runner sharing agg across every spawned session.
func NewRunner(config Config, agg *rtpstats.Aggregator, logger zerolog.Logger) *Runner {
	burst := 10
	if config.Rate > 100 {
		burst = int(config.Rate / 10)
	}
	if burst > 100 {
		burst = 100
	}

	maxConcurrent := 10000
	if config.Readers > 10000 {
		maxConcurrent = config.Readers / 10
		if maxConcurrent > 50000 {
			maxConcurrent = 50000
		}
	}

	r := &Runner{
		config:     config,
		aggregator: agg,
		logger:     logger,
		limiter:    rate.NewLimiter(rate.Limit(config.Rate), burst),
		semaphore:  make(chan struct{}, maxConcurrent),
		latencies:  make([]float64, 0, 1000),
	}
	r.minLatency.Store(99999999)
	return r
}

// Run executes the load test until ctx is cancelled or every reader
// has finished its session.
func (r *Runner) Run(ctx context.Context) error {
	if r.config.RealWorld {
		sim := NewRealWorldSimulator(r.config, r.aggregator, r.logger)
		return sim.Run(ctx)
	}

	r.logger.Info().Int("readers", r.config.Readers).Float64("rate", r.config.Rate).Msg("starting load test")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.wg.Add(1)
	go r.spawnConnections(runCtx)

	allDone := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(allDone)
	}()

	select {
	case <-runCtx.Done():
	case <-allDone:
	}
	r.logger.Info().Msg("waiting for connections to close")
	r.wg.Wait()
	return nil
}

func (r *Runner) spawnConnections(ctx context.Context) {
	defer r.wg.Done()

	spawned := 0
	lastCheck := time.Now()
	var lastFailures int64

	for spawned < r.config.Readers {
		if ctx.Err() != nil {
			return
		}

		if spawned > 0 && spawned%10 == 0 && time.Since(lastCheck) > 2*time.Second {
			current := r.totalFailures.Load()
			delta := current - lastFailures
			if delta > 2 {
				newRate := r.limiter.Limit() / 2
				if newRate < 1 {
					newRate = 1
				}
				r.limiter.SetLimit(newRate)
				r.logger.Warn().Int64("failures", delta).Float64("new_rate", float64(newRate)).Msg("high failure rate, slowing ramp")
			} else if delta == 0 && r.limiter.Limit() < rate.Limit(r.config.Rate) {
				newRate := r.limiter.Limit() * 1.2
				if newRate > rate.Limit(r.config.Rate) {
					newRate = rate.Limit(r.config.Rate)
				}
				r.limiter.SetLimit(newRate)
			}
			lastCheck = time.Now()
			lastFailures = current
		}

		if err := r.limiter.Wait(ctx); err != nil {
			return
		}

		select {
		case r.semaphore <- struct{}{}:
		case <-ctx.Done():
			return
		}

		r.wg.Add(1)
		if r.config.IncludeBadClients && badClientRoll(spawned, r.config.BadClientRatio) {
			go r.runBadClient(ctx)
		} else {
			go r.runConnection(ctx)
		}
		spawned++
	}

	r.logger.Info().Int("spawned", spawned).Msg("finished spawning connections")
}

// badClientRoll is a small deterministic-enough substitute for
// rand.Float64() gating so tests can exercise the mix without relying
// on global randomness timing.
func badClientRoll(i int, ratio float64) bool {
	if ratio <= 0 {
		return false
	}
	step := int(1 / ratio)
	if step <= 0 {
		step = 1
	}
	return i%step == 0
}

func (r *Runner) runConnection(ctx context.Context) {
	defer r.wg.Done()
	defer func() { <-r.semaphore }()

	start := time.Now()
	conn, err := dialWithRetry(ctx, r.config.Addr, 3)
	if err != nil {
		r.totalFailures.Add(1)
		return
	}
	latencyMs := time.Since(start).Milliseconds()
	r.recordLatency(latencyMs)

	sess := clientsession.New(conn, r.logger)
	defer sess.Close()

	r.totalConnects.Add(1)
	r.activeConnects.Add(1)
	defer r.activeConnects.Add(-1)

	runCtx, cancel := context.WithTimeout(ctx, r.config.Duration)
	defer cancel()

	if err := r.playSession(runCtx, sess); err != nil {
		r.totalFailures.Add(1)
	}

	snap := sess.Stats()
	r.aggregator.Add(snap, snap.PacketsReceived*uint64(rtpAvgFrameEstimate))
}

// rtpAvgFrameEstimate is a rough byte estimate, multiplied by each
// session's received packet count to fill the aggregate Bytes total
// (Stats.Bytes); it is not part of any wire computation.
const rtpAvgFrameEstimate = 8000

// playSession runs SETUP/PLAY, drains the JitterBuffer at its adaptive
// pace until runCtx is done or the stream ends, then tears down.
func (r *Runner) playSession(ctx context.Context, sess *clientsession.Session) error {
	return playClientSession(ctx, sess, r.config.Filename)
}

// playClientSession runs one session's SETUP/PLAY/consume/TEARDOWN
// cycle; shared by Runner and RealWorldSimulator so both ramp styles
// exercise the same ClientSession lifecycle.
func playClientSession(ctx context.Context, sess *clientsession.Session, filename string) error {
	if err := sess.Setup(filename); err != nil {
		return fmt.Errorf("setup: %w", err)
	}
	if err := sess.Play(); err != nil {
		return fmt.Errorf("play: %w", err)
	}

	buf := sess.Buffer()
	for {
		select {
		case <-ctx.Done():
			sess.Teardown()
			return nil
		default:
		}
		if _, ok := buf.Dequeue(); !ok && buf.Ended() {
			sess.Teardown()
			return nil
		}
		time.Sleep(buf.ConsumeInterval())
	}
}

func (r *Runner) runBadClient(ctx context.Context) {
	defer r.wg.Done()
	defer func() { <-r.semaphore }()

	fc := faultclient.New(r.config.Addr, r.logger)
	r.badClients.Add(1)
	r.activeConnects.Add(1)
	defer r.activeConnects.Add(-1)

	typeName := fc.Kind()
	if count, ok := r.badClientTypes.Load(typeName); ok {
		r.badClientTypes.Store(typeName, count.(int64)+1)
	} else {
		r.badClientTypes.Store(typeName, int64(1))
	}

	runCtx, cancel := context.WithTimeout(ctx, r.config.Duration)
	defer cancel()
	_ = fc.Run(runCtx)
}

func (r *Runner) recordLatency(ms int64) {
	r.connectLatency.Add(ms)
	r.connectCount.Add(1)

	for {
		old := r.minLatency.Load()
		if ms >= old || r.minLatency.CompareAndSwap(old, ms) {
			break
		}
	}
	for {
		old := r.maxLatency.Load()
		if ms <= old || r.maxLatency.CompareAndSwap(old, ms) {
			break
		}
	}

	r.latenciesMu.Lock()
	if len(r.latencies) < 10000 {
		r.latencies = append(r.latencies, float64(ms))
	}
	r.latenciesMu.Unlock()
}

// Stats is a point-in-time snapshot of load-test progress.
type Stats struct {
	ActiveConnects int64
	TotalConnects  int64
	TotalFailures  int64
	AvgConnectTime float64
	MinConnectTime float64
	MaxConnectTime float64
	P95ConnectTime float64
	Packets        uint64
	Lost           uint64
	Bytes          uint64
	BadClients     int64
	BadClientTypes map[string]int64
}

// GetStats returns the current aggregate statistics.
func (r *Runner) GetStats() Stats {
	snap := r.aggregator.Snapshot()

	var avg float64
	if count := r.connectCount.Load(); count > 0 {
		avg = float64(r.connectLatency.Load()) / float64(count)
	}

	var p95 float64
	r.latenciesMu.Lock()
	if len(r.latencies) > 0 {
		p95 = percentile(r.latencies, 95)
	}
	r.latenciesMu.Unlock()

	minLat := float64(r.minLatency.Load())
	if minLat == 99999999 {
		minLat = 0
	}

	types := make(map[string]int64)
	r.badClientTypes.Range(func(key, value interface{}) bool {
		types[key.(string)] = value.(int64)
		return true
	})

	return Stats{
		ActiveConnects: r.activeConnects.Load(),
		TotalConnects:  r.totalConnects.Load(),
		TotalFailures:  r.totalFailures.Load(),
		AvgConnectTime: avg,
		MinConnectTime: minLat,
		MaxConnectTime: float64(r.maxLatency.Load()),
		P95ConnectTime: p95,
		Packets:        snap.Packets,
		Lost:           snap.Lost,
		Bytes:          snap.Bytes,
		BadClients:     r.badClients.Load(),
		BadClientTypes: types,
	}
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	index := (p / 100) * float64(len(sorted)-1)
	lower := int(index)
	upper := lower + 1
	if upper >= len(sorted) {
		return sorted[lower]
	}
	weight := index - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}
