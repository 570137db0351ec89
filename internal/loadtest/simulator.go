// Created by WINK Streaming (https://www.wink.co)
package loadtest

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/streamlab/rtspmjpeg/internal/clientsession"
	"github.com/streamlab/rtspmjpeg/internal/rtpstats"
)

// RealWorldSimulator varies the target connection count over time
// instead of ramping straight to Readers, modeling daily traffic
// patterns. Grounded in the teacher's internal/bench/simulator.go,
// rewritten against clientsession.Session.
type RealWorldSimulator struct {
	config     Config
	aggregator *rtpstats.Aggregator
	logger     zerolog.Logger

	activeConnects atomic.Int64
	totalConnects  atomic.Int64
	totalFailures  atomic.Int64
	targetConnects atomic.Int64

	connections map[string]*simConnection
	connMu      sync.RWMutex
	wg          sync.WaitGroup
}

type simConnection struct {
	id        string
	startTime time.Time
	session   *clientsession.Session
	cancel    context.CancelFunc
}

// NewRealWorldSimulator builds a simulator sharing agg with the rest
// of the process's load-test tooling.
func NewRealWorldSimulator(config Config, agg *rtpstats.Aggregator, logger zerolog.Logger) *RealWorldSimulator {
	return &RealWorldSimulator{
		config:      config,
		aggregator:  agg,
		logger:      logger,
		connections: make(map[string]*simConnection),
	}
}

// Run drives the simulation until ctx is cancelled.
func (s *RealWorldSimulator) Run(ctx context.Context) error {
	s.logger.Info().Int("avg_connections", s.config.AvgConnections).Float64("variance", s.config.Variance).Msg("starting real-world simulation")

	s.wg.Add(2)
	go s.generateLoadPattern(ctx)
	go s.manageConnections(ctx)

	<-ctx.Done()
	s.logger.Info().Msg("shutting down simulation")
	s.wg.Wait()
	return nil
}

func (s *RealWorldSimulator) generateLoadPattern(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	s.targetConnects.Store(int64(s.config.AvgConnections))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.adjustTargetLoad()
		}
	}
}

func (s *RealWorldSimulator) adjustTargetLoad() {
	avg := float64(s.config.AvgConnections)
	variance := s.config.Variance

	hour := time.Now().Hour()
	var dayFactor float64
	switch {
	case hour >= 9 && hour <= 11:
		dayFactor = 1.2
	case hour >= 12 && hour <= 13:
		dayFactor = 0.9
	case hour >= 14 && hour <= 17:
		dayFactor = 1.1
	case hour >= 18 && hour <= 22:
		dayFactor = 1.3
	case hour >= 23 || hour <= 5:
		dayFactor = 0.6
	default:
		dayFactor = 0.8
	}

	randomFactor := 1.0 + (rand.Float64()-0.5)*variance
	newTarget := int64(avg * dayFactor * randomFactor)

	minTarget := int64(avg * (1 - variance))
	maxTarget := int64(avg * (1 + variance))
	if newTarget < minTarget {
		newTarget = minTarget
	}
	if newTarget > maxTarget {
		newTarget = maxTarget
	}

	s.targetConnects.Store(newTarget)
	s.logger.Debug().Int64("target", newTarget).Int64("active", s.activeConnects.Load()).Msg("load adjustment")
}

func (s *RealWorldSimulator) manageConnections(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.closeAll()
			return
		case <-ticker.C:
			s.adjustConnections(ctx)
		}
	}
}

func (s *RealWorldSimulator) adjustConnections(ctx context.Context) {
	current := s.activeConnects.Load()
	target := s.targetConnects.Load()
	diff := target - current

	if diff > 0 {
		toAdd := diff
		if toAdd > 50 {
			toAdd = 50
		}
		for i := int64(0); i < toAdd; i++ {
			s.wg.Add(1)
			go s.addConnection(ctx)
		}
	} else if diff < 0 {
		toRemove := -diff
		if toRemove > 20 {
			toRemove = 20
		}
		s.removeConnections(toRemove)
	}
}

func (s *RealWorldSimulator) addConnection(ctx context.Context) {
	defer s.wg.Done()

	id := fmt.Sprintf("conn-%d-%d", time.Now().UnixNano(), rand.Int())

	conn, err := dialWithRetry(ctx, s.config.Addr, 1)
	if err != nil {
		s.totalFailures.Add(1)
		return
	}
	sess := clientsession.New(conn, s.logger)

	s.totalConnects.Add(1)
	s.activeConnects.Add(1)

	minDuration := 30 * time.Second
	maxDuration := s.config.Duration
	if maxDuration <= minDuration {
		maxDuration = 5 * time.Minute
	}
	durationRange := maxDuration - minDuration
	if durationRange <= 0 {
		durationRange = 4*time.Minute + 30*time.Second
	}
	duration := minDuration + time.Duration(rand.Int63n(int64(durationRange)))

	connCtx, cancel := context.WithTimeout(ctx, duration)
	sc := &simConnection{id: id, startTime: time.Now(), session: sess, cancel: cancel}

	s.connMu.Lock()
	s.connections[id] = sc
	s.connMu.Unlock()

	if err := playClientSession(connCtx, sess, s.config.Filename); err != nil {
		s.totalFailures.Add(1)
	}
	sess.Close()

	s.connMu.Lock()
	delete(s.connections, id)
	s.connMu.Unlock()
	s.activeConnects.Add(-1)
}

func (s *RealWorldSimulator) removeConnections(count int64) {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	removed := int64(0)
	for id, conn := range s.connections {
		if removed >= count {
			break
		}
		conn.cancel()
		delete(s.connections, id)
		removed++
	}
}

func (s *RealWorldSimulator) closeAll() {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	for _, conn := range s.connections {
		conn.cancel()
	}
	s.connections = make(map[string]*simConnection)
}

// GetStats returns the simulator's current statistics.
func (s *RealWorldSimulator) GetStats() Stats {
	snap := s.aggregator.Snapshot()
	return Stats{
		ActiveConnects: s.activeConnects.Load(),
		TotalConnects:  s.totalConnects.Load(),
		TotalFailures:  s.totalFailures.Load(),
		Packets:        snap.Packets,
		Lost:           snap.Lost,
		Bytes:          snap.Bytes,
	}
}

// LoadPattern names a synthetic traffic shape usable in tests.
type LoadPattern int

const (
	PatternSteady LoadPattern = iota
	PatternPeak
	PatternValley
	PatternSpike
	PatternGradual
)

// GeneratePattern computes a target connection count for pattern given
// a base level and amplitude, used by tests that exercise load shaping
// without depending on wall-clock hour-of-day behavior.
func GeneratePattern(pattern LoadPattern, base int, amplitude float64) int {
	switch pattern {
	case PatternPeak:
		return base + int(float64(base)*amplitude)
	case PatternValley:
		return base - int(float64(base)*amplitude)
	case PatternSpike:
		if rand.Float64() < 0.1 {
			return base * 2
		}
		return base
	case PatternGradual:
		t := float64(time.Now().Unix())
		return base + int(float64(base)*amplitude*math.Sin(t/300))
	default:
		return base
	}
}
