package rtc

import (
	"encoding/hex"
	"sync"
	"sync/atomic"

	"github.com/pion/ion-mt/pkg/log"
	"github.com/pion/ion-mt/pkg/packet"
	"github.com/pion/rtcp"
)

// snapshotRing keeps copies of the last N decrypted buffers so a
// compound parse failure can be dumped post mortem.
type snapshotRing struct {
	mu   sync.Mutex
	bufs [][]byte
	idx  int
}

func newSnapshotRing(size int) *snapshotRing {
	return &snapshotRing{bufs: make([][]byte, size)}
}

// Transform clones each buffer into the ring and passes the batch on
func (r *snapshotRing) Transform(pkts []*packet.Info) []*packet.Info {
	r.mu.Lock()
	for _, p := range pkts {
		c := make([]byte, len(p.Buf))
		copy(c, p.Buf)
		r.bufs[r.idx] = c
		r.idx = (r.idx + 1) % len(r.bufs)
		p.Snapshot = c
	}
	r.mu.Unlock()
	return pkts
}

// dump logs the ring contents, newest last
func (r *snapshotRing) dump() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := 0; i < len(r.bufs); i++ {
		buf := r.bufs[(r.idx+i)%len(r.bufs)]
		if buf == nil {
			continue
		}
		log.Warnf("rtcp snapshot[%d]: %s", i, hex.EncodeToString(buf))
	}
}

// rtcpParser unmarshals the plaintext compound. On failure it dumps
// the snapshot ring and emits nothing.
type rtcpParser struct {
	ring       *snapshotRing
	parseFails uint64
}

func (r *rtcpParser) Transform(pkts []*packet.Info) []*packet.Info {
	var out []*packet.Info
	for _, p := range pkts {
		compound, err := rtcp.Unmarshal(p.Buf)
		if err != nil {
			atomic.AddUint64(&r.parseFails, 1)
			r.ring.dump()
			continue
		}
		p.Compound = compound
		out = append(out, p)
	}
	return out
}

// compoundSplitter yields one packet per compound element. Siblings
// share the receive time but get their own timeline from the split
// point on.
type compoundSplitter struct{}

func (compoundSplitter) Transform(pkts []*packet.Info) []*packet.Info {
	var out []*packet.Info
	for _, p := range pkts {
		for _, element := range p.Compound {
			c := p.Clone()
			c.Kind = packet.RTCPElement
			c.Element = element
			c.Compound = nil
			if raw, err := element.Marshal(); err == nil {
				c.Buf = raw
			}
			out = append(out, c)
		}
	}
	return out
}

// rtcpTermination consumes the RTCP kinds the transceiver handles
// itself and forwards the rest downstream.
type rtcpTermination struct {
	notifier *RtcpEventNotifier

	mu        sync.RWMutex
	estimator BandwidthEstimator
}

func (t *rtcpTermination) setEstimator(e BandwidthEstimator) {
	t.mu.Lock()
	t.estimator = e
	t.mu.Unlock()
}

func (t *rtcpTermination) feed(pkt rtcp.Packet) {
	t.mu.RLock()
	e := t.estimator
	t.mu.RUnlock()
	if e != nil {
		e.OnFeedback(pkt)
	}
}

func (t *rtcpTermination) Transform(pkts []*packet.Info) []*packet.Info {
	var out []*packet.Info
	for _, p := range pkts {
		switch element := p.Element.(type) {
		case *rtcp.SenderReport:
			t.notifier.emitSR(element, p.ReceivedAt)
		case *rtcp.ReceiverReport:
			t.notifier.emitRR(element, p.ReceivedAt)
		case *rtcp.TransportLayerNack:
			t.notifier.emitNack(element)
		case *rtcp.PictureLossIndication:
			t.notifier.emitPLI(element)
		case *rtcp.FullIntraRequest:
			t.notifier.emitFIR(element)
		case *rtcp.ReceiverEstimatedMaximumBitrate:
			t.notifier.emitREMB(element)
			t.feed(element)
		case *rtcp.TransportLayerCC:
			t.notifier.emitTCC(element)
			t.feed(element)
		default:
			// SDES, BYE and anything unknown stay with the host
			out = append(out, p)
		}
	}
	return out
}
