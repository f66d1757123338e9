package rtc

import (
	"testing"
	"time"

	"github.com/pion/ion-mt/pkg/conf"
	"github.com/pion/ion-mt/pkg/media"
	"github.com/pion/ion-mt/pkg/packet"
	"github.com/pion/ion-mt/pkg/srtp"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/transport/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

func testConfig() conf.Engine {
	cfg := conf.Default().Engine
	cfg.RRCycleMs = 100
	cfg.NackDelayMs = 20
	return cfg
}

// newTestTransceiver starts a transceiver with identity transformers
// and the opus/vp8 formats installed.
func newTestTransceiver(t *testing.T) *Transceiver {
	t.Helper()
	tr := NewTransceiver(testConfig())
	t.Cleanup(tr.Stop)
	tr.InstallTransformers(srtp.Identity{}, srtp.Identity{})
	tr.AddDynamicRtpPayloadType(media.Format{PayloadType: 111, Codec: "opus", ClockRate: 48000, Channels: 2, Kind: media.Audio})
	tr.AddDynamicRtpPayloadType(media.Format{PayloadType: 96, Codec: "VP8", ClockRate: 90000, Kind: media.Video})
	return tr
}

func rawRTP(t *testing.T, pt uint8, ssrc uint32, seq uint16, payload []byte) []byte {
	t.Helper()
	p := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    pt,
			SequenceNumber: seq,
			Timestamp:      uint32(seq) * 960,
			SSRC:           ssrc,
		},
		Payload: payload,
	}
	raw, err := p.Marshal()
	require.NoError(t, err)
	return raw
}

// vp8Payload is a minimal keyframe-start packet
func vp8Payload() []byte {
	return []byte{0x10, 0x00, 0x9d, 0x01, 0x2a}
}

func collectRTP(t *testing.T, tr *Transceiver) chan *packet.Info {
	t.Helper()
	ch := make(chan *packet.Info, 64)
	tr.SetIncomingRtpHandler(func(pkts []*packet.Info) {
		for _, p := range pkts {
			ch <- p
		}
	})
	return ch
}

func collectRTCP(t *testing.T, tr *Transceiver) chan *packet.Info {
	t.Helper()
	ch := make(chan *packet.Info, 64)
	tr.SetIncomingRtcpHandler(func(pkts []*packet.Info) {
		for _, p := range pkts {
			ch <- p
		}
	})
	return ch
}

func TestAudioPathHappyCase(t *testing.T) {
	tr := newTestTransceiver(t)
	out := collectRTP(t, tr)

	require.NoError(t, tr.HandleIncomingPacket(rawRTP(t, 111, 0xA, 100, []byte{1, 2, 3})))

	select {
	case p := <-out:
		assert.Equal(t, packet.AudioRTP, p.Kind)
		require.NotNil(t, p.RTP)
		assert.Equal(t, uint32(0xA), p.RTP.SSRC)
		assert.Equal(t, uint16(100), p.RTP.SequenceNumber)
		for _, label := range []string{
			"Entered " + nodeSRTPParser,
			"Entered " + nodePayloadFilter,
			"Entered " + nodeSRTPDecrypt,
			"Entered " + nodeMediaTypeParser,
			"Entered " + nodeAudioLevel,
		} {
			assert.True(t, p.HasMark(label), label)
		}
	case <-time.After(waitFor):
		t.Fatal("no packet reached the rtp handler")
	}

	snapshot, ok := tr.registry.Snapshot(0xA)
	require.True(t, ok)
	assert.Equal(t, uint64(1), snapshot.PacketsReceived)
}

func TestUnknownPayloadTypeDropped(t *testing.T) {
	tr := newTestTransceiver(t)
	out := collectRTP(t, tr)

	require.NoError(t, tr.HandleIncomingPacket(rawRTP(t, 77, 0xA, 100, []byte{1})))

	select {
	case <-out:
		t.Fatal("packet with unknown payload type forwarded")
	case <-time.After(300 * time.Millisecond):
	}

	for _, b := range tr.Stats() {
		if b.Name == nodePayloadFilter {
			assert.Equal(t, uint64(1), b.NumInputPackets)
			assert.Equal(t, uint64(0), b.NumOutputPackets)
			return
		}
	}
	t.Fatal("payload filter stats not found")
}

func TestRoundTripIdentityBytesUnchanged(t *testing.T) {
	tr := newTestTransceiver(t)
	out := collectRTP(t, tr)

	raw := rawRTP(t, 111, 0xA, 7, []byte{9, 8, 7, 6})
	sent := make([]byte, len(raw))
	copy(sent, raw)
	require.NoError(t, tr.HandleIncomingPacket(raw))

	select {
	case p := <-out:
		assert.Equal(t, sent, p.Buf)
	case <-time.After(waitFor):
		t.Fatal("no packet reached the rtp handler")
	}
}

func TestRtcpRoutingAndTermination(t *testing.T) {
	tr := newTestTransceiver(t)
	rtcpOut := collectRTCP(t, tr)

	rrSeen := make(chan *rtcp.ReceiverReport, 1)
	tr.Notifier().OnReceiverReport(func(rr *rtcp.ReceiverReport, at time.Time) {
		rrSeen <- rr
	})

	// an RR is terminated locally, never forwarded
	rr := &rtcp.ReceiverReport{SSRC: 1}
	rawRR, err := rr.Marshal()
	require.NoError(t, err)
	require.NoError(t, tr.HandleIncomingPacket(rawRR))

	select {
	case got := <-rrSeen:
		assert.Equal(t, uint32(1), got.SSRC)
	case <-time.After(waitFor):
		t.Fatal("rr not published to notifier")
	}

	// sdes is not terminated and reaches the rtcp handler
	sdes := &rtcp.SourceDescription{
		Chunks: []rtcp.SourceDescriptionChunk{{
			Source: 0xA,
			Items:  []rtcp.SourceDescriptionItem{{Type: rtcp.SDESCNAME, Text: "ep"}},
		}},
	}
	rawSdes, err := sdes.Marshal()
	require.NoError(t, err)
	require.NoError(t, tr.HandleIncomingPacket(rawSdes))

	select {
	case p := <-rtcpOut:
		assert.Equal(t, packet.RTCPElement, p.Kind)
		_, ok := p.Element.(*rtcp.SourceDescription)
		assert.True(t, ok)
	case <-time.After(waitFor):
		t.Fatal("sdes not forwarded to rtcp handler")
	}
}

func TestCompoundRtcpSplitting(t *testing.T) {
	tr := newTestTransceiver(t)
	rtcpOut := collectRTCP(t, tr)

	sdes := &rtcp.SourceDescription{
		Chunks: []rtcp.SourceDescriptionChunk{{
			Source: 0xA,
			Items:  []rtcp.SourceDescriptionItem{{Type: rtcp.SDESCNAME, Text: "ep"}},
		}},
	}
	bye := &rtcp.Goodbye{Sources: []uint32{0xA}}
	raw, err := rtcp.Marshal([]rtcp.Packet{sdes, bye})
	require.NoError(t, err)
	require.NoError(t, tr.HandleIncomingPacket(raw))

	var got []*packet.Info
	deadline := time.After(waitFor)
	for len(got) < 2 {
		select {
		case p := <-rtcpOut:
			got = append(got, p)
		case <-deadline:
			t.Fatalf("expected 2 elements, got %d", len(got))
		}
	}
	assert.Equal(t, got[0].ReceivedAt, got[1].ReceivedAt)
	assert.True(t, got[0].HasMark("Entered "+nodeRTCPSplitter))
	assert.True(t, got[1].HasMark("Entered "+nodeRTCPSplitter))
}

func TestRtxRewrite(t *testing.T) {
	tr := newTestTransceiver(t)
	tr.AddDynamicRtpPayloadType(media.Format{PayloadType: 97, Codec: "rtx", ClockRate: 90000, Kind: media.Video})
	tr.AddSsrcAssociation(0xA, 0xB, media.AssociationFID)
	out := collectRTP(t, tr)

	// original sequence number 12345 in the first two payload bytes
	payload := append([]byte{0x30, 0x39}, vp8Payload()...)
	require.NoError(t, tr.HandleIncomingPacket(rawRTP(t, 97, 0xB, 9000, payload)))

	select {
	case p := <-out:
		require.NotNil(t, p.RTP)
		assert.Equal(t, uint32(0xA), p.RTP.SSRC)
		assert.Equal(t, uint16(12345), p.RTP.SequenceNumber)
		assert.Equal(t, vp8Payload(), p.RTP.Payload)
	case <-time.After(waitFor):
		t.Fatal("rtx packet not rewritten and forwarded")
	}
}

func TestVideoParserTagsKeyframe(t *testing.T) {
	tr := newTestTransceiver(t)
	out := collectRTP(t, tr)

	require.NoError(t, tr.HandleIncomingPacket(rawRTP(t, 96, 0xC, 1, vp8Payload())))

	select {
	case p := <-out:
		assert.Equal(t, packet.VideoRTP, p.Kind)
		require.NotNil(t, p.Video)
		assert.True(t, p.Video.Keyframe)
		assert.True(t, p.Video.StartOfFrame)
	case <-time.After(waitFor):
		t.Fatal("video packet not forwarded")
	}
}

// drainOutgoing unmarshals outgoing rtcp until match returns true
func drainOutgoing(t *testing.T, tr *Transceiver, match func(rtcp.Packet) bool) bool {
	t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case p := <-tr.OutgoingQueue().Chan():
			compound, err := rtcp.Unmarshal(p.Buf)
			if err != nil {
				continue
			}
			for _, element := range compound {
				if match(element) {
					return true
				}
			}
		case <-deadline:
			return false
		}
	}
}

func TestReceiverReportGeneration(t *testing.T) {
	tr := newTestTransceiver(t)
	collectRTP(t, tr)

	for seq := uint16(1); seq <= 10; seq++ {
		require.NoError(t, tr.HandleIncomingPacket(rawRTP(t, 111, 0xB, seq, []byte{1})))
	}

	found := drainOutgoing(t, tr, func(pkt rtcp.Packet) bool {
		rr, ok := pkt.(*rtcp.ReceiverReport)
		if !ok {
			return false
		}
		for _, report := range rr.Reports {
			if report.SSRC == 0xB && report.TotalLost == 0 {
				return true
			}
		}
		return false
	})
	assert.True(t, found, "no receiver report for ssrc 0xB")

	snapshot, ok := tr.registry.Snapshot(0xB)
	require.True(t, ok)
	assert.Equal(t, uint64(10), snapshot.PacketsReceived)
	assert.Equal(t, uint32(0), snapshot.CumulativeLost)
}

func TestNackEmission(t *testing.T) {
	tr := newTestTransceiver(t)
	collectRTP(t, tr)

	for _, seq := range []uint16{1, 2, 3, 5, 6, 7} {
		require.NoError(t, tr.HandleIncomingPacket(rawRTP(t, 96, 0xC, seq, vp8Payload())))
	}

	found := drainOutgoing(t, tr, func(pkt rtcp.Packet) bool {
		nack, ok := pkt.(*rtcp.TransportLayerNack)
		if !ok {
			return false
		}
		for _, pair := range nack.Nacks {
			if pair.PacketID == 4 {
				return true
			}
		}
		return false
	})
	assert.True(t, found, "no nack for sequence 4")
}

func TestTransformerNotInstalledDrops(t *testing.T) {
	tr := NewTransceiver(testConfig())
	t.Cleanup(tr.Stop)
	tr.AddDynamicRtpPayloadType(media.Format{PayloadType: 111, Codec: "opus", ClockRate: 48000, Kind: media.Audio})
	out := collectRTP(t, tr)

	require.NoError(t, tr.HandleIncomingPacket(rawRTP(t, 111, 0xA, 1, []byte{1})))

	select {
	case <-out:
		t.Fatal("packet forwarded without transformer")
	case <-time.After(300 * time.Millisecond):
	}
	assert.Equal(t, uint64(1), tr.receiver.srtpHolder.DroppedNoTransformer())
}

func TestStopLatency(t *testing.T) {
	report := test.CheckRoutines(t)
	defer report()

	tr := NewTransceiver(testConfig())
	tr.InstallTransformers(srtp.Identity{}, srtp.Identity{})

	start := time.Now()
	tr.Stop()
	elapsed := time.Since(start)
	assert.True(t, elapsed <= 2*time.Duration(testConfig().PollTimeoutMs)*time.Millisecond,
		"stop took %v", elapsed)

	assert.Error(t, tr.HandleIncomingPacket([]byte{0x80, 0x60, 0x00, 0x00}))
}

func TestQueueOverflowCounts(t *testing.T) {
	q := NewQueue(2)
	assert.True(t, q.Push(packet.New([]byte{1})))
	assert.True(t, q.Push(packet.New([]byte{2})))
	assert.False(t, q.Push(packet.New([]byte{3})))
	assert.Equal(t, uint64(1), q.Dropped())
	assert.Equal(t, 2, q.Len())
}

func TestClearRtpExtensionsBroadcasts(t *testing.T) {
	tr := newTestTransceiver(t)
	tr.AddRtpExtension(media.Extension{ID: 5, URI: media.AudioLevelURI})
	assert.Equal(t, uint8(5), tr.receiver.audioLevel.extID)

	tr.ClearRtpExtensions()
	assert.Equal(t, uint8(0), tr.receiver.audioLevel.extID)
	tr.mu.RLock()
	assert.Empty(t, tr.extensions)
	tr.mu.RUnlock()
}

func TestAudioLevelExtraction(t *testing.T) {
	tr := newTestTransceiver(t)
	tr.AddRtpExtension(media.Extension{ID: 5, URI: media.AudioLevelURI})
	out := collectRTP(t, tr)

	levels := make(chan uint8, 1)
	tr.SetAudioLevelListener(func(ssrc uint32, level uint8, voice bool) {
		levels <- level
	})

	p := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    111,
			SequenceNumber: 1,
			SSRC:           0xA,
		},
		Payload: []byte{1, 2, 3},
	}
	require.NoError(t, p.SetExtension(5, []byte{0x80 | 42}))
	raw, err := p.Marshal()
	require.NoError(t, err)
	require.NoError(t, tr.HandleIncomingPacket(raw))

	select {
	case level := <-levels:
		assert.Equal(t, uint8(42), level)
	case <-time.After(waitFor):
		t.Fatal("audio level not extracted")
	}
	select {
	case p := <-out:
		assert.True(t, p.HasAudioLevel)
		assert.Equal(t, uint8(42), p.AudioLevel)
	case <-time.After(waitFor):
		t.Fatal("audio packet not forwarded")
	}
}

func TestSendRtpReachesOutgoingQueue(t *testing.T) {
	tr := newTestTransceiver(t)

	p := packet.New(rawRTP(t, 111, 0xD, 1, []byte{1, 2}))
	tr.SendRtp([]*packet.Info{p})

	select {
	case got := <-tr.OutgoingQueue().Chan():
		assert.Equal(t, packet.SRTP, got.Kind)
		assert.True(t, got.HasMark("Entered "+nodeSRTPProtect))
	case <-time.After(waitFor):
		t.Fatal("rtp did not reach the outgoing queue")
	}
}

func TestEngineRegistry(t *testing.T) {
	tr := newTestTransceiver(t)
	assert.Equal(t, tr, GetTransceiver(tr.ID()))
	tr.Stop()
	assert.Nil(t, GetTransceiver(tr.ID()))
}
