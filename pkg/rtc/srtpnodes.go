package rtc

import (
	"sync/atomic"

	"github.com/pion/ion-mt/pkg/packet"
	"github.com/pion/ion-mt/pkg/srtp"
	"github.com/pion/rtp"
)

// transformerHolder is the lock-free transformer slot shared by the
// crypto nodes: assigned from the control path, read from the packet
// path. Packets arriving before keys are installed are dropped with a
// dedicated counter, expected transiently during the DTLS handshake.
type transformerHolder struct {
	v             atomic.Value
	noTransformer uint64
	authFailures  uint64
}

type transformerBox struct {
	t srtp.PacketTransformer
}

func newTransformerHolder() *transformerHolder {
	h := &transformerHolder{}
	h.v.Store(transformerBox{})
	return h
}

// Set swaps the transformer handle
func (h *transformerHolder) Set(t srtp.PacketTransformer) {
	h.v.Store(transformerBox{t: t})
}

func (h *transformerHolder) get() srtp.PacketTransformer {
	return h.v.Load().(transformerBox).t
}

// DroppedNoTransformer counts packets seen before keys were installed
func (h *transformerHolder) DroppedNoTransformer() uint64 {
	return atomic.LoadUint64(&h.noTransformer)
}

// AuthFailures counts packets whose authentication tag did not verify
func (h *transformerHolder) AuthFailures() uint64 {
	return atomic.LoadUint64(&h.authFailures)
}

// srtpDecrypter reverses the SRTP transform and reparses the plaintext
// as a full RTP packet.
type srtpDecrypter struct {
	holder *transformerHolder
}

func (d *srtpDecrypter) Transform(pkts []*packet.Info) []*packet.Info {
	tr := d.holder.get()
	var out []*packet.Info
	for _, p := range pkts {
		if tr == nil {
			atomic.AddUint64(&d.holder.noTransformer, 1)
			continue
		}
		plain, err := tr.ReverseTransform(p.Buf)
		if err != nil {
			atomic.AddUint64(&d.holder.authFailures, 1)
			continue
		}
		parsed := &rtp.Packet{}
		if err := parsed.Unmarshal(plain); err != nil {
			continue
		}
		p.Buf = plain
		p.RTP = parsed
		p.Kind = packet.RTP
		out = append(out, p)
	}
	return out
}

// srtcpDecrypter reverses the SRTCP transform, leaving the plaintext
// compound for the RTCP parser downstream.
type srtcpDecrypter struct {
	holder *transformerHolder
}

func (d *srtcpDecrypter) Transform(pkts []*packet.Info) []*packet.Info {
	tr := d.holder.get()
	var out []*packet.Info
	for _, p := range pkts {
		if tr == nil {
			atomic.AddUint64(&d.holder.noTransformer, 1)
			continue
		}
		plain, err := tr.ReverseTransform(p.Buf)
		if err != nil {
			atomic.AddUint64(&d.holder.authFailures, 1)
			continue
		}
		p.Buf = plain
		p.Kind = packet.RTCP
		out = append(out, p)
	}
	return out
}

// srtpProtecter applies the outgoing SRTP or SRTCP transform
type srtpProtecter struct {
	holder *transformerHolder
	rtcp   bool
}

func (e *srtpProtecter) Transform(pkts []*packet.Info) []*packet.Info {
	tr := e.holder.get()
	var out []*packet.Info
	for _, p := range pkts {
		if tr == nil {
			atomic.AddUint64(&e.holder.noTransformer, 1)
			continue
		}
		sealed, err := tr.Transform(p.Buf)
		if err != nil {
			continue
		}
		p.Buf = sealed
		if e.rtcp {
			p.Kind = packet.SRTCP
		} else {
			p.Kind = packet.SRTP
		}
		out = append(out, p)
	}
	return out
}
