package rtc

import (
	"sync"
	"time"

	"github.com/pion/ion-mt/pkg/media"
	"github.com/pion/ion-mt/pkg/node"
	"github.com/pion/ion-mt/pkg/packet"
	"github.com/pion/ion-mt/pkg/util"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
)

const (
	maxExtInfo = 1000

	//64ms = 64000us = 250 << 8
	//https://webrtc.googlesource.com/src/webrtc/+/f54860e9ef0b68e182a01edc994626d21961bc4b/modules/rtp_rtcp/source/rtcp_packet/transport_feedback.cc#41
	baseScaleFactor = 64000
	//https://webrtc.googlesource.com/src/webrtc/+/f54860e9ef0b68e182a01edc994626d21961bc4b/modules/rtp_rtcp/source/rtcp_packet/transport_feedback.cc#43
	timeWrapPeriodUs = (int64(1) << 24) * baseScaleFactor
)

type rtpExtInfo struct {
	//transport sequence num
	TSN       uint16
	Timestamp int64
}

// tccGenerator accumulates transport-wide-cc receipts and periodically
// turns them into RTCP feedback for the sender.
type tccGenerator struct {
	mu    sync.RWMutex
	extID uint8
	ssrc  uint32

	rtpExtInfoChan      chan rtpExtInfo
	feedbackPacketCount uint8

	send  rtcpSender
	cycle time.Duration

	stopCh chan struct{}
	once   sync.Once
}

func newTCCGenerator(send rtcpSender, cycle time.Duration) *tccGenerator {
	t := &tccGenerator{
		rtpExtInfoChan: make(chan rtpExtInfo, maxExtInfo),
		send:           send,
		cycle:          cycle,
		stopCh:         make(chan struct{}),
	}
	t.loop()
	return t
}

func (t *tccGenerator) loop() {
	go func() {
		defer util.Recover("[tcc.loop]")
		ticker := time.NewTicker(t.cycle)
		defer ticker.Stop()
		for {
			select {
			case <-t.stopCh:
				return
			case <-ticker.C:
				if fb := t.buildFeedback(); fb != nil {
					t.send(fb)
				}
			}
		}
	}()
}

// Transform notes the transport sequence number and arrival time of
// every packet carrying the extension, passing the batch through.
func (t *tccGenerator) Transform(pkts []*packet.Info) []*packet.Info {
	t.mu.RLock()
	extID := t.extID
	t.mu.RUnlock()
	if extID == 0 {
		return pkts
	}
	for _, p := range pkts {
		if p.RTP == nil {
			continue
		}
		ext := p.RTP.GetExtension(extID)
		if ext == nil {
			continue
		}
		var tccExt rtp.TransportCCExtension
		if err := tccExt.Unmarshal(ext); err != nil {
			continue
		}
		t.mu.Lock()
		t.ssrc = p.RTP.SSRC
		t.mu.Unlock()
		select {
		case t.rtpExtInfoChan <- rtpExtInfo{
			TSN:       tccExt.TransportSequence,
			Timestamp: p.ReceivedAt.UnixNano() / 1000,
		}:
		default:
		}
	}
	return pkts
}

// buildFeedback drains the accumulated receipts into one
// TransportLayerCC packet, nil when there is nothing to report.
func (t *tccGenerator) buildFeedback() rtcp.Packet {
	pending := len(t.rtpExtInfoChan)
	if pending == 0 {
		return nil
	}

	//get all rtp extension infos from channel
	rtpExtInfo := make(map[uint16]int64)
	for i := 0; i < pending; i++ {
		info := <-t.rtpExtInfoChan
		rtpExtInfo[info.TSN] = info.Timestamp
	}

	//find the min and max transport sn
	var minTSN, maxTSN uint16
	first := true
	for tsn := range rtpExtInfo {
		if first {
			minTSN, maxTSN = tsn, tsn
			first = false
			continue
		}
		if seqGreater(minTSN, tsn) {
			minTSN = tsn
		}
		if seqGreater(tsn, maxTSN) {
			maxTSN = tsn
		}
	}

	//force small delta rtcp.RunLengthChunk
	chunk := &rtcp.RunLengthChunk{
		Type:               rtcp.TypeTCCRunLengthChunk,
		PacketStatusSymbol: rtcp.TypeTCCPacketReceivedSmallDelta,
		RunLength:          maxTSN - minTSN + 1,
	}

	//gather deltas
	var recvDeltas []*rtcp.RecvDelta
	var refTime uint32
	var lastTS int64
	var baseTimeTicks int64
	for i := minTSN; ; i++ {
		ts, ok := rtpExtInfo[i]
		if !ok {
			recvDeltas = append(recvDeltas, &rtcp.RecvDelta{
				Type: rtcp.TypeTCCPacketReceivedSmallDelta,
			})
			if i == maxTSN {
				break
			}
			continue
		}

		if lastTS == 0 {
			lastTS = ts
		}
		if baseTimeTicks == 0 {
			baseTimeTicks = (ts % timeWrapPeriodUs) / baseScaleFactor
		}

		var delta int64
		if lastTS == ts {
			delta = ts%timeWrapPeriodUs - baseTimeTicks*baseScaleFactor
		} else {
			delta = (ts - lastTS) % timeWrapPeriodUs
		}

		if refTime == 0 {
			refTime = uint32(baseTimeTicks) & 0x007FFFFF
		}

		recvDeltas = append(recvDeltas, &rtcp.RecvDelta{
			Type:  rtcp.TypeTCCPacketReceivedSmallDelta,
			Delta: delta,
		})
		if i == maxTSN {
			break
		}
	}

	t.mu.RLock()
	ssrc := t.ssrc
	t.mu.RUnlock()

	fb := &rtcp.TransportLayerCC{
		Header: rtcp.Header{
			Padding: false,
			Count:   rtcp.FormatTCC,
			Type:    rtcp.TypeTransportSpecificFeedback,
		},
		MediaSSRC:          ssrc,
		BaseSequenceNumber: minTSN,
		PacketStatusCount:  maxTSN - minTSN + 1,
		ReferenceTime:      refTime,
		FbPktCount:         t.feedbackPacketCount,
		RecvDeltas:         recvDeltas,
		PacketChunks:       []rtcp.PacketStatusChunk{chunk},
	}
	fb.Header.Length = fb.Len()/4 - 1
	t.feedbackPacketCount++
	return fb
}

func (t *tccGenerator) HandleEvent(ev node.Event) {
	switch e := ev.(type) {
	case node.ExtensionAdded:
		if e.Ext.URI == media.TransportCCURI {
			t.mu.Lock()
			t.extID = e.Ext.ID
			t.mu.Unlock()
		}
	case node.ExtensionsCleared:
		t.mu.Lock()
		t.extID = 0
		t.mu.Unlock()
	}
}

// Stop terminates the feedback loop
func (t *tccGenerator) Stop() {
	t.once.Do(func() {
		close(t.stopCh)
	})
}
