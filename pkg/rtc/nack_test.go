package rtc

import (
	"testing"
	"time"

	"github.com/pion/ion-mt/pkg/packet"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nackPkt(ssrc uint32, seq uint16) *packet.Info {
	p := packet.New(nil)
	p.RTP = &rtp.Packet{Header: rtp.Header{SSRC: ssrc, SequenceNumber: seq}}
	return p
}

func TestBuildNackPairs(t *testing.T) {
	pairs := buildNackPairs([]uint16{4})
	require.Len(t, pairs, 1)
	assert.Equal(t, uint16(4), pairs[0].PacketID)
	assert.Equal(t, rtcp.PacketBitmap(0), pairs[0].LostPackets)

	pairs = buildNackPairs([]uint16{4, 5, 7})
	require.Len(t, pairs, 1)
	assert.Equal(t, uint16(4), pairs[0].PacketID)
	assert.Equal(t, rtcp.PacketBitmap(1|1<<2), pairs[0].LostPackets)

	// beyond one bitmap span
	pairs = buildNackPairs([]uint16{4, 30})
	require.Len(t, pairs, 2)
	assert.Equal(t, uint16(4), pairs[0].PacketID)
	assert.Equal(t, uint16(30), pairs[1].PacketID)
}

func TestNackSuppressAndExpire(t *testing.T) {
	sent := make(chan rtcp.Packet, 16)
	r := newRetransmissionRequester(func(p rtcp.Packet) { sent <- p }, 10*time.Millisecond, 2)
	defer r.Stop()

	r.Transform([]*packet.Info{nackPkt(0xC, 1), nackPkt(0xC, 3)})

	var requests int
	deadline := time.After(500 * time.Millisecond)
	for done := false; !done; {
		select {
		case p := <-sent:
			nack := p.(*rtcp.TransportLayerNack)
			assert.Equal(t, uint32(0xC), nack.MediaSSRC)
			assert.Equal(t, uint16(2), nack.Nacks[0].PacketID)
			requests++
		case <-deadline:
			done = true
		}
	}
	// maxRetries bounds the request count
	assert.True(t, requests >= 1 && requests <= 2, "requests=%d", requests)
}

func TestNackLateArrivalCancels(t *testing.T) {
	sent := make(chan rtcp.Packet, 16)
	r := newRetransmissionRequester(func(p rtcp.Packet) { sent <- p }, 50*time.Millisecond, 10)
	defer r.Stop()

	r.Transform([]*packet.Info{nackPkt(0xC, 1), nackPkt(0xC, 3)})
	// retransmission arrives before the request delay elapses
	r.Transform([]*packet.Info{nackPkt(0xC, 2)})

	select {
	case <-sent:
		t.Fatal("nack sent for a gap that was filled in time")
	case <-time.After(150 * time.Millisecond):
	}
}
