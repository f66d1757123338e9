package rtc

import (
	"encoding/binary"
	"sync"

	"github.com/pion/ion-mt/pkg/media"
	"github.com/pion/ion-mt/pkg/node"
	"github.com/pion/ion-mt/pkg/packet"
)

// rtxHandler rewrites retransmissions (RFC 4588): packets arriving on
// an RTX ssrc get the primary ssrc back and their original sequence
// number, carried in the first two payload bytes.
type rtxHandler struct {
	mu sync.RWMutex
	// secondary ssrc -> primary ssrc, FID associations only
	primary map[uint32]uint32
}

func newRtxHandler() *rtxHandler {
	return &rtxHandler{primary: make(map[uint32]uint32)}
}

func (r *rtxHandler) Transform(pkts []*packet.Info) []*packet.Info {
	var out []*packet.Info
	for _, p := range pkts {
		if p.RTP == nil {
			out = append(out, p)
			continue
		}
		r.mu.RLock()
		primary, isRtx := r.primary[p.RTP.SSRC]
		r.mu.RUnlock()
		if !isRtx {
			out = append(out, p)
			continue
		}
		if len(p.RTP.Payload) < 2 {
			// rtx padding probe, nothing to restore
			continue
		}
		osn := binary.BigEndian.Uint16(p.RTP.Payload[:2])
		p.RTP.SSRC = primary
		p.RTP.SequenceNumber = osn
		p.RTP.Payload = p.RTP.Payload[2:]
		raw, err := p.RTP.Marshal()
		if err != nil {
			continue
		}
		p.Buf = raw
		out = append(out, p)
	}
	return out
}

func (r *rtxHandler) HandleEvent(ev node.Event) {
	switch e := ev.(type) {
	case node.SSRCAssociationAdded:
		if e.Association.Kind == media.AssociationFID {
			r.mu.Lock()
			r.primary[e.Association.Secondary] = e.Association.Primary
			r.mu.Unlock()
		}
	case node.ReceiveSSRCRemoved:
		r.mu.Lock()
		delete(r.primary, e.SSRC)
		r.mu.Unlock()
	}
}

// paddingTermination drops padding-only packets, which exist purely
// for bandwidth probing.
type paddingTermination struct{}

func (paddingTermination) Transform(pkts []*packet.Info) []*packet.Info {
	var out []*packet.Info
	for _, p := range pkts {
		if p.RTP != nil && isPaddingOnly(p) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// isPaddingOnly reports whether the payload is nothing but padding:
// the padding bit is set and the trailing length octet covers the
// whole payload.
func isPaddingOnly(p *packet.Info) bool {
	if !p.RTP.Padding {
		return false
	}
	n := len(p.RTP.Payload)
	if n == 0 {
		return true
	}
	return int(p.RTP.Payload[n-1]) >= n
}
