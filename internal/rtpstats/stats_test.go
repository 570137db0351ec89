// Created by WINK Streaming (https://www.wink.co)
package rtpstats

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestObservePacketNoLossOnFirst(t *testing.T) {
	s := New()
	s.ObservePacket(100)
	snap := s.Snapshot()
	assert.Equal(t, uint64(1), snap.PacketsReceived)
	assert.Equal(t, uint64(0), snap.PacketsLost)
	assert.Equal(t, uint16(100), snap.LastSeqNum)
}

func TestObservePacketSequentialNoLoss(t *testing.T) {
	s := New()
	for seq := uint16(1); seq <= 5; seq++ {
		s.ObservePacket(seq)
	}
	snap := s.Snapshot()
	assert.Equal(t, uint64(5), snap.PacketsReceived)
	assert.Equal(t, uint64(0), snap.PacketsLost)
}

func TestObservePacketGapCountsLoss(t *testing.T) {
	s := New()
	s.ObservePacket(1)
	s.ObservePacket(2)
	s.ObservePacket(6) // 3 missing: 3,4,5
	snap := s.Snapshot()
	assert.Equal(t, uint64(3), snap.PacketsReceived)
	assert.Equal(t, uint64(3), snap.PacketsLost)
}

func TestObservePacketWrapAround(t *testing.T) {
	s := New()
	s.ObservePacket(65534)
	s.ObservePacket(65535)
	s.ObservePacket(0)
	s.ObservePacket(1)
	snap := s.Snapshot()
	assert.Equal(t, uint64(0), snap.PacketsLost)
	assert.Equal(t, uint16(1), snap.LastSeqNum)
}

func TestObservePacketDuplicateNotCountedAsLoss(t *testing.T) {
	s := New()
	s.ObservePacket(10)
	s.ObservePacket(10)
	snap := s.Snapshot()
	assert.Equal(t, uint64(0), snap.PacketsLost)
}

func TestFrameCountersAndLossRate(t *testing.T) {
	s := New()
	s.ObserveFrameComplete()
	s.ObserveFrameComplete()
	s.ObserveFrameDropped()
	snap := s.Snapshot()
	assert.Equal(t, uint64(2), snap.FramesReceived)
	assert.Equal(t, uint64(1), snap.FramesDropped)
}

func TestLossRateZeroWhenNoPackets(t *testing.T) {
	snap := Snapshot{}
	assert.Equal(t, 0.0, snap.LossRate())
}

func TestLossRateComputation(t *testing.T) {
	snap := Snapshot{PacketsReceived: 90, PacketsLost: 10}
	assert.InDelta(t, 10.0, snap.LossRate(), 0.001)
}

func TestAggregatorAccumulates(t *testing.T) {
	agg := NewAggregator()
	agg.Add(Snapshot{PacketsReceived: 100, PacketsLost: 5}, 150000)
	agg.Add(Snapshot{PacketsReceived: 200, PacketsLost: 1}, 300000)

	snap := agg.Snapshot()
	assert.Equal(t, uint64(300), snap.Packets)
	assert.Equal(t, uint64(6), snap.Lost)
	assert.Equal(t, uint64(450000), snap.Bytes)
	assert.Greater(t, snap.Bitrate(1.0), 0.0)
}
