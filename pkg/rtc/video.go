package rtc

import (
	"sync"

	"github.com/pion/ion-mt/pkg/media"
	"github.com/pion/ion-mt/pkg/node"
	"github.com/pion/ion-mt/pkg/packet"
	"github.com/pion/ion-mt/pkg/vp8"
	"github.com/pion/rtp/codecs"
)

// videoParser attaches codec metadata derived from the payload
// descriptor. Packets of codecs it cannot parse pass through bare.
type videoParser struct {
	mu      sync.RWMutex
	formats map[uint8]media.Format
}

func newVideoParser() *videoParser {
	return &videoParser{formats: make(map[uint8]media.Format)}
}

func (v *videoParser) Transform(pkts []*packet.Info) []*packet.Info {
	for _, p := range pkts {
		if p.RTP == nil {
			continue
		}
		v.mu.RLock()
		format, ok := v.formats[p.RTP.PayloadType]
		v.mu.RUnlock()
		if !ok || format.Codec != "VP8" {
			continue
		}
		vp8Packet := &codecs.VP8Packet{}
		if _, err := vp8Packet.Unmarshal(p.RTP.Payload); err != nil {
			continue
		}
		p.Video = &packet.VideoMeta{
			Keyframe:     vp8.IsKeyFrame(p.RTP.Payload),
			StartOfFrame: vp8.IsStartOfFrame(p.RTP.Payload),
			TemporalID:   vp8.TemporalID(p.RTP.Payload),
		}
	}
	return pkts
}

func (v *videoParser) HandleEvent(ev node.Event) {
	switch e := ev.(type) {
	case node.PayloadTypeAdded:
		v.mu.Lock()
		v.formats[e.Format.PayloadType] = e.Format
		v.mu.Unlock()
	case node.PayloadTypesCleared:
		v.mu.Lock()
		v.formats = make(map[uint8]media.Format)
		v.mu.Unlock()
	}
}
