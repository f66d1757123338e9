package rtc

import (
	"sync"
	"time"

	"github.com/pion/ion-mt/pkg/media"
	"github.com/pion/ion-mt/pkg/node"
	"github.com/pion/ion-mt/pkg/packet"
	"github.com/pion/rtp"
)

// StreamSnapshot is a consistent per-ssrc view for the RR generator
type StreamSnapshot struct {
	SSRC            uint32
	PacketsReceived uint64
	BytesReceived   uint64
	ExtendedHighest uint32
	CumulativeLost  uint32
	FractionLost    uint8
	Jitter          uint32
}

// streamStats holds RFC 3550 arrival statistics for one ssrc
type streamStats struct {
	mu sync.Mutex

	ssrc        uint32
	clockRate   uint32
	initialized bool

	baseSeq uint16
	maxSeq  uint16
	cycles  uint32

	received uint64
	bytes    uint64

	jitter      float64
	lastTransit int64

	expectedPrior uint64
	receivedPrior uint64
}

func (s *streamStats) update(pkt *rtp.Packet, size int, arrival time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq := pkt.SequenceNumber
	if !s.initialized {
		s.initialized = true
		s.baseSeq = seq
		s.maxSeq = seq
	} else if seqGreater(seq, s.maxSeq) {
		if seq < s.maxSeq {
			s.cycles++
		}
		s.maxSeq = seq
	}
	s.received++
	s.bytes += uint64(size)

	if s.clockRate > 0 {
		arrivalRTP := arrival.UnixNano() / int64(time.Second/time.Duration(s.clockRate))
		transit := arrivalRTP - int64(pkt.Timestamp)
		if s.lastTransit != 0 {
			d := transit - s.lastTransit
			if d < 0 {
				d = -d
			}
			s.jitter += (float64(d) - s.jitter) / 16
		}
		s.lastTransit = transit
	}
}

func (s *streamStats) snapshot() StreamSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	extended := uint32(s.cycles)<<16 | uint32(s.maxSeq)
	expected := uint64(extended-uint32(s.baseSeq)) + 1
	var lost uint64
	if expected > s.received {
		lost = expected - s.received
	}

	expectedInterval := expected - s.expectedPrior
	receivedInterval := s.received - s.receivedPrior
	s.expectedPrior = expected
	s.receivedPrior = s.received
	var fraction uint8
	if expectedInterval > receivedInterval && expectedInterval > 0 {
		fraction = uint8((expectedInterval - receivedInterval) * 256 / expectedInterval)
	}

	return StreamSnapshot{
		SSRC:            s.ssrc,
		PacketsReceived: s.received,
		BytesReceived:   s.bytes,
		ExtendedHighest: extended,
		CumulativeLost:  uint32(lost),
		FractionLost:    fraction,
		Jitter:          uint32(s.jitter),
	}
}

func seqGreater(a, b uint16) bool {
	return a != b && a-b < 1<<15
}

// StreamStatsRegistry tracks arrival stats per receive ssrc. The node
// hook updates it on the receive thread; the RR generator snapshots it
// from the background scheduler.
type StreamStatsRegistry struct {
	mu      sync.RWMutex
	streams map[uint32]*streamStats
	formats map[uint8]media.Format
}

func newStreamStatsRegistry() *StreamStatsRegistry {
	return &StreamStatsRegistry{
		streams: make(map[uint32]*streamStats),
		formats: make(map[uint8]media.Format),
	}
}

func (r *StreamStatsRegistry) stream(ssrc uint32, pt uint8) *streamStats {
	r.mu.RLock()
	s := r.streams[ssrc]
	r.mu.RUnlock()
	if s != nil {
		return s
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if s = r.streams[ssrc]; s != nil {
		return s
	}
	s = &streamStats{ssrc: ssrc}
	if f, ok := r.formats[pt]; ok {
		s.clockRate = f.ClockRate
	}
	r.streams[ssrc] = s
	return s
}

// Snapshot returns the current stats for ssrc, false when unknown
func (r *StreamStatsRegistry) Snapshot(ssrc uint32) (StreamSnapshot, bool) {
	r.mu.RLock()
	s := r.streams[ssrc]
	r.mu.RUnlock()
	if s == nil {
		return StreamSnapshot{}, false
	}
	return s.snapshot(), true
}

// Snapshots returns stats for every tracked ssrc
func (r *StreamStatsRegistry) Snapshots() []StreamSnapshot {
	r.mu.RLock()
	streams := make([]*streamStats, 0, len(r.streams))
	for _, s := range r.streams {
		streams = append(streams, s)
	}
	r.mu.RUnlock()
	out := make([]StreamSnapshot, 0, len(streams))
	for _, s := range streams {
		out = append(out, s.snapshot())
	}
	return out
}

func (r *StreamStatsRegistry) remove(ssrc uint32) {
	r.mu.Lock()
	delete(r.streams, ssrc)
	r.mu.Unlock()
}

// Transform updates per-ssrc stats and passes the batch through
func (r *StreamStatsRegistry) Transform(pkts []*packet.Info) []*packet.Info {
	for _, p := range pkts {
		if p.RTP == nil {
			continue
		}
		r.stream(p.RTP.SSRC, p.RTP.PayloadType).update(p.RTP, p.Size(), p.ReceivedAt)
	}
	return pkts
}

// HandleEvent tracks the payload table for clock rates and retires
// stats with their ssrc
func (r *StreamStatsRegistry) HandleEvent(ev node.Event) {
	switch e := ev.(type) {
	case node.PayloadTypeAdded:
		r.mu.Lock()
		r.formats[e.Format.PayloadType] = e.Format
		r.mu.Unlock()
	case node.PayloadTypesCleared:
		r.mu.Lock()
		r.formats = make(map[uint8]media.Format)
		r.mu.Unlock()
	case node.ReceiveSSRCRemoved:
		r.remove(e.SSRC)
	}
}
