package rtc

import (
	"sync"

	"github.com/pion/ion-mt/pkg/media"
	"github.com/pion/ion-mt/pkg/node"
	"github.com/pion/ion-mt/pkg/packet"
)

// AudioLevelListener observes the ssrc-audio-level extension of every
// audio packet that carries one.
type AudioLevelListener func(ssrc uint32, level uint8, voice bool)

// audioLevelReader extracts the audio level header extension. It never
// drops a packet.
type audioLevelReader struct {
	mu       sync.RWMutex
	extID    uint8
	listener AudioLevelListener
}

func (a *audioLevelReader) setListener(l AudioLevelListener) {
	a.mu.Lock()
	a.listener = l
	a.mu.Unlock()
}

func (a *audioLevelReader) Transform(pkts []*packet.Info) []*packet.Info {
	a.mu.RLock()
	extID, listener := a.extID, a.listener
	a.mu.RUnlock()
	if extID == 0 {
		return pkts
	}
	for _, p := range pkts {
		if p.RTP == nil {
			continue
		}
		ext := p.RTP.GetExtension(extID)
		if len(ext) < 1 {
			continue
		}
		// V bit plus 7 bits of -dBov
		level := ext[0] & 0x7F
		voice := ext[0]&0x80 != 0
		p.AudioLevel = level
		p.HasAudioLevel = true
		if listener != nil {
			listener(p.RTP.SSRC, level, voice)
		}
	}
	return pkts
}

func (a *audioLevelReader) HandleEvent(ev node.Event) {
	switch e := ev.(type) {
	case node.ExtensionAdded:
		if e.Ext.URI == media.AudioLevelURI {
			a.mu.Lock()
			a.extID = e.Ext.ID
			a.mu.Unlock()
		}
	case node.ExtensionsCleared:
		a.mu.Lock()
		a.extID = 0
		a.mu.Unlock()
	}
}
