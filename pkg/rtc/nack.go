package rtc

import (
	"sort"
	"sync"
	"time"

	"github.com/pion/ion-mt/pkg/node"
	"github.com/pion/ion-mt/pkg/packet"
	"github.com/pion/ion-mt/pkg/util"
	"github.com/pion/rtcp"
)

const (
	// one NackPair covers PID plus a 16 bit bitmap
	nackPairSpan = 17

	// gaps older than this are given up on
	nackExpireAge = 2 * time.Second
)

type missingEntry struct {
	since    time.Time
	lastReq  time.Time
	requests int
}

type nackStream struct {
	started bool
	lastSeq uint16
	missing map[uint16]*missingEntry
}

// retransmissionRequester watches sequence numbers per ssrc and asks
// for lost packets via NACK after a short delay, suppressing duplicate
// requests until the delay elapses again.
type retransmissionRequester struct {
	mu      sync.Mutex
	streams map[uint32]*nackStream

	send       rtcpSender
	delay      time.Duration
	maxRetries int

	stopCh chan struct{}
	once   sync.Once
}

func newRetransmissionRequester(send rtcpSender, delay time.Duration, maxRetries int) *retransmissionRequester {
	r := &retransmissionRequester{
		streams:    make(map[uint32]*nackStream),
		send:       send,
		delay:      delay,
		maxRetries: maxRetries,
		stopCh:     make(chan struct{}),
	}
	r.loop()
	return r
}

func (r *retransmissionRequester) loop() {
	go func() {
		defer util.Recover("[nack.loop]")
		t := time.NewTicker(r.delay)
		defer t.Stop()
		for {
			select {
			case <-r.stopCh:
				return
			case <-t.C:
				for _, nack := range r.collect(time.Now()) {
					r.send(nack)
				}
			}
		}
	}()
}

// Transform records arrivals and gaps, passing every packet through
func (r *retransmissionRequester) Transform(pkts []*packet.Info) []*packet.Info {
	now := time.Now()
	r.mu.Lock()
	for _, p := range pkts {
		if p.RTP == nil {
			continue
		}
		s := r.streams[p.RTP.SSRC]
		if s == nil {
			s = &nackStream{missing: make(map[uint16]*missingEntry)}
			r.streams[p.RTP.SSRC] = s
		}
		seq := p.RTP.SequenceNumber
		switch {
		case !s.started:
			s.started = true
			s.lastSeq = seq
		case seq == s.lastSeq:
			// duplicate
		case seqGreater(seq, s.lastSeq):
			for i := s.lastSeq + 1; i != seq; i++ {
				s.missing[i] = &missingEntry{since: now}
			}
			s.lastSeq = seq
		default:
			// late arrival fills a gap
			delete(s.missing, seq)
		}
	}
	r.mu.Unlock()
	return pkts
}

// collect builds one TransportLayerNack per ssrc with due entries
func (r *retransmissionRequester) collect(now time.Time) []rtcp.Packet {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []rtcp.Packet
	for ssrc, s := range r.streams {
		var due []uint16
		for seq, e := range s.missing {
			if now.Sub(e.since) > nackExpireAge || e.requests >= r.maxRetries {
				delete(s.missing, seq)
				continue
			}
			if now.Sub(e.since) < r.delay {
				continue
			}
			if e.requests > 0 && now.Sub(e.lastReq) < r.delay {
				continue
			}
			due = append(due, seq)
			e.requests++
			e.lastReq = now
		}
		if len(due) == 0 {
			continue
		}
		out = append(out, &rtcp.TransportLayerNack{
			MediaSSRC: ssrc,
			Nacks:     buildNackPairs(due),
		})
	}
	return out
}

// buildNackPairs packs sorted sequence numbers into PID+BLP pairs
func buildNackPairs(seqs []uint16) []rtcp.NackPair {
	sort.Slice(seqs, func(i, j int) bool { return seqGreater(seqs[j], seqs[i]) })
	var pairs []rtcp.NackPair
	var pair *rtcp.NackPair
	for _, seq := range seqs {
		if pair != nil && seq-pair.PacketID < nackPairSpan {
			pair.LostPackets |= 1 << (seq - pair.PacketID - 1)
			continue
		}
		pairs = append(pairs, rtcp.NackPair{PacketID: seq})
		pair = &pairs[len(pairs)-1]
	}
	return pairs
}

func (r *retransmissionRequester) HandleEvent(ev node.Event) {
	if e, ok := ev.(node.ReceiveSSRCRemoved); ok {
		r.mu.Lock()
		delete(r.streams, e.SSRC)
		r.mu.Unlock()
	}
}

// Stop terminates the request loop
func (r *retransmissionRequester) Stop() {
	r.once.Do(func() {
		close(r.stopCh)
	})
}
