package rtc

import (
	"testing"
	"time"

	"github.com/pion/ion-mt/pkg/media"
	"github.com/pion/ion-mt/pkg/node"
	"github.com/pion/ion-mt/pkg/packet"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feedStats(r *StreamStatsRegistry, ssrc uint32, seqs ...uint16) {
	now := time.Now()
	for _, seq := range seqs {
		p := packet.NewAt(nil, now)
		p.RTP = &rtp.Packet{
			Header: rtp.Header{
				PayloadType:    111,
				SequenceNumber: seq,
				Timestamp:      uint32(seq) * 960,
				SSRC:           ssrc,
			},
		}
		r.Transform([]*packet.Info{p})
		now = now.Add(20 * time.Millisecond)
	}
}

func TestStreamStatsNoLoss(t *testing.T) {
	r := newStreamStatsRegistry()
	feedStats(r, 0xB, 1, 2, 3, 4, 5)

	s, ok := r.Snapshot(0xB)
	require.True(t, ok)
	assert.Equal(t, uint64(5), s.PacketsReceived)
	assert.Equal(t, uint32(0), s.CumulativeLost)
	assert.Equal(t, uint32(5), s.ExtendedHighest)
	assert.Equal(t, uint8(0), s.FractionLost)
}

func TestStreamStatsLoss(t *testing.T) {
	r := newStreamStatsRegistry()
	feedStats(r, 0xC, 10, 11, 13, 14) // 12 lost

	s, ok := r.Snapshot(0xC)
	require.True(t, ok)
	assert.Equal(t, uint64(4), s.PacketsReceived)
	assert.Equal(t, uint32(1), s.CumulativeLost)
	assert.True(t, s.FractionLost > 0)
}

func TestStreamStatsSequenceWrap(t *testing.T) {
	r := newStreamStatsRegistry()
	feedStats(r, 0xD, 65534, 65535, 0, 1)

	s, ok := r.Snapshot(0xD)
	require.True(t, ok)
	assert.Equal(t, uint64(4), s.PacketsReceived)
	assert.Equal(t, uint32(0), s.CumulativeLost)
	assert.Equal(t, uint32(1<<16|1), s.ExtendedHighest)
}

func TestStreamStatsRemovedWithSsrc(t *testing.T) {
	r := newStreamStatsRegistry()
	feedStats(r, 0xE, 1, 2)
	_, ok := r.Snapshot(0xE)
	require.True(t, ok)

	r.HandleEvent(node.ReceiveSSRCRemoved{SSRC: 0xE})
	_, ok = r.Snapshot(0xE)
	assert.False(t, ok)
}

func TestStreamStatsClockRateFromFormat(t *testing.T) {
	r := newStreamStatsRegistry()
	r.HandleEvent(node.PayloadTypeAdded{Format: media.Format{PayloadType: 111, ClockRate: 48000, Kind: media.Audio}})
	feedStats(r, 0xF, 1, 2, 3)

	s, ok := r.Snapshot(0xF)
	require.True(t, ok)
	assert.Equal(t, uint64(3), s.PacketsReceived)
	assert.Equal(t, uint32(48000), r.streams[0xF].clockRate)
}
