package rtc

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/ion-mt/pkg/conf"
	"github.com/pion/ion-mt/pkg/log"
	"github.com/pion/ion-mt/pkg/media"
	"github.com/pion/ion-mt/pkg/node"
	"github.com/pion/ion-mt/pkg/packet"
	"github.com/pion/ion-mt/pkg/util"
	"github.com/pion/rtp"
)

// matchSRTCP reports whether the (still encrypted) buffer is SRTCP:
// the RTCP packet-type range occupies the second byte.
func matchSRTCP(p *packet.Info) bool {
	return len(p.Buf) >= 2 && p.Buf[1] >= 192 && p.Buf[1] <= 223
}

func matchSRTP(p *packet.Info) bool {
	return len(p.Buf) >= 2 && !matchSRTCP(p)
}

// rootParser validates the outer SRTP protocol framing
type rootParser struct{}

func (rootParser) Transform(pkts []*packet.Info) []*packet.Info {
	var out []*packet.Info
	for _, p := range pkts {
		if len(p.Buf) < 4 || p.Buf[0]>>6 != 2 {
			continue
		}
		p.Kind = packet.SRTPProtocol
		out = append(out, p)
	}
	return out
}

// srtpParser parses the cleartext RTP header ahead of decryption so
// the payload filter can run before the crypto work.
type srtpParser struct{}

func (srtpParser) Transform(pkts []*packet.Info) []*packet.Info {
	var out []*packet.Info
	for _, p := range pkts {
		h := &rtp.Header{}
		if err := h.Unmarshal(p.Buf); err != nil {
			continue
		}
		p.Header = h
		p.Kind = packet.SRTP
		out = append(out, p)
	}
	return out
}

// srtcpParser tags the buffer as SRTCP; the compound structure stays
// opaque until decryption.
type srtcpParser struct{}

func (srtcpParser) Transform(pkts []*packet.Info) []*packet.Info {
	var out []*packet.Info
	for _, p := range pkts {
		if len(p.Buf) < 8 {
			continue
		}
		p.Kind = packet.SRTCP
		out = append(out, p)
	}
	return out
}

// payloadTypeFilter drops packets whose payload type has not been
// negotiated. Events install and clear the table.
type payloadTypeFilter struct {
	mu      sync.RWMutex
	formats map[uint8]media.Format
}

func newPayloadTypeFilter() *payloadTypeFilter {
	return &payloadTypeFilter{formats: make(map[uint8]media.Format)}
}

func (f *payloadTypeFilter) Transform(pkts []*packet.Info) []*packet.Info {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var out []*packet.Info
	for _, p := range pkts {
		if p.Header == nil {
			continue
		}
		if _, ok := f.formats[p.Header.PayloadType]; !ok {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (f *payloadTypeFilter) HandleEvent(ev node.Event) {
	switch e := ev.(type) {
	case node.PayloadTypeAdded:
		f.mu.Lock()
		f.formats[e.Format.PayloadType] = e.Format
		f.mu.Unlock()
	case node.PayloadTypesCleared:
		f.mu.Lock()
		f.formats = make(map[uint8]media.Format)
		f.mu.Unlock()
	}
}

// mediaTypeParser reinterprets the plaintext RTP packet as audio or
// video; unknown payload types drop.
type mediaTypeParser struct {
	mu      sync.RWMutex
	formats map[uint8]media.Format
}

func newMediaTypeParser() *mediaTypeParser {
	return &mediaTypeParser{formats: make(map[uint8]media.Format)}
}

func (m *mediaTypeParser) Transform(pkts []*packet.Info) []*packet.Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*packet.Info
	for _, p := range pkts {
		if p.RTP == nil {
			continue
		}
		format, ok := m.formats[p.RTP.PayloadType]
		if !ok {
			continue
		}
		if format.Kind == media.Audio {
			p.Kind = packet.AudioRTP
		} else {
			p.Kind = packet.VideoRTP
		}
		out = append(out, p)
	}
	return out
}

func (m *mediaTypeParser) HandleEvent(ev node.Event) {
	switch e := ev.(type) {
	case node.PayloadTypeAdded:
		m.mu.Lock()
		m.formats[e.Format.PayloadType] = e.Format
		m.mu.Unlock()
	case node.PayloadTypesCleared:
		m.mu.Lock()
		m.formats = make(map[uint8]media.Format)
		m.mu.Unlock()
	}
}

// Receiver owns the incoming pipeline, its bounded queue and the
// worker that drives packets through the graph. Single-threaded: one
// worker, all node processing happens on it.
type Receiver struct {
	cfg   conf.Engine
	root  *node.Node
	queue *Queue

	srtpHolder  *transformerHolder
	srtcpHolder *transformerHolder
	registry    *StreamStatsRegistry
	nack        *retransmissionRequester
	tcc         *tccGenerator
	audioLevel  *audioLevelReader
	termination *rtcpTermination
	rtpHandler  *handlerWrapper
	rtcpHandler *handlerWrapper

	processed uint64
	running   util.AtomicBool
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

func newReceiver(cfg conf.Engine, registry *StreamStatsRegistry, notifier *RtcpEventNotifier, send rtcpSender) *Receiver {
	r := &Receiver{
		cfg:         cfg,
		queue:       NewQueue(cfg.QueueSize),
		srtpHolder:  newTransformerHolder(),
		srtcpHolder: newTransformerHolder(),
		registry:    registry,
		rtpHandler:  newHandlerWrapper(),
		rtcpHandler: newHandlerWrapper(),
		stopCh:      make(chan struct{}),
	}
	r.nack = newRetransmissionRequester(send, time.Duration(cfg.NackDelayMs)*time.Millisecond, cfg.NackMaxRetries)
	r.tcc = newTCCGenerator(send, time.Duration(cfg.TccCycleMs)*time.Millisecond)
	r.root = r.buildPipeline(notifier)
	r.running.Set(true)
	r.start()
	return r
}

// buildPipeline wires the incoming topology: protocol parse, demux on
// SRTP vs SRTCP, decrypt, classify, then per-media-type processing.
func (r *Receiver) buildPipeline(notifier *RtcpEventNotifier) *node.Node {
	r.audioLevel = &audioLevelReader{}
	r.termination = &rtcpTermination{notifier: notifier}

	audioPath := node.NewBuilder().
		Node(node.New(nodeAudioLevel, r.audioLevel)).
		Node(node.New(nodeRTPHandler, r.rtpHandler)).
		Build()

	videoPath := node.NewBuilder().
		Node(node.New(nodeRtxHandler, newRtxHandler())).
		Node(node.New(nodePaddingTerm, paddingTermination{})).
		Node(node.New(nodeVideoParser, newVideoParser())).
		Node(node.New(nodeNackGenerator, r.nack)).
		Node(node.New(nodeRTPHandler, r.rtpHandler)).
		Build()

	rtpPath := node.NewBuilder().
		Node(node.New(nodeSRTPParser, srtpParser{})).
		Node(node.New(nodePayloadFilter, newPayloadTypeFilter())).
		Node(node.New(nodeTCCGenerator, r.tcc)).
		Node(node.New(nodeSRTPDecrypt, &srtpDecrypter{holder: r.srtpHolder})).
		Node(node.New(nodeMediaTypeParser, newMediaTypeParser())).
		Node(node.New(nodeStatTracker, r.registry)).
		Demux(nodeMediaDemux,
			node.Path("audio", func(p *packet.Info) bool { return p.Kind == packet.AudioRTP }, audioPath),
			node.Path("video", func(p *packet.Info) bool { return p.Kind == packet.VideoRTP }, videoPath),
		).
		Build()

	ring := newSnapshotRing(r.cfg.SnapshotRing)
	rtcpPath := node.NewBuilder().
		Node(node.New(nodeSRTCPParser, srtcpParser{})).
		Node(node.New(nodeSRTCPDecrypt, &srtcpDecrypter{holder: r.srtcpHolder})).
		Node(node.New(nodeSnapshot, ring)).
		Node(node.New(nodeRTCPParser, &rtcpParser{ring: ring})).
		Node(node.New(nodeRTCPSplitter, compoundSplitter{})).
		Node(node.New(nodeRTCPTermination, r.termination)).
		Node(node.New(nodeRTCPHandler, r.rtcpHandler)).
		Build()

	return node.NewBuilder().
		Node(node.New(nodeRootParser, rootParser{})).
		Demux(nodeProtocolDemux,
			node.Path("rtcp", matchSRTCP, rtcpPath),
			node.Path("rtp", matchSRTP, rtpPath),
		).
		Build()
}

// enqueue admits one raw packet, false on overflow
func (r *Receiver) enqueue(p *packet.Info) bool {
	if !r.running.Get() {
		return false
	}
	p.Mark("Entered incoming queue")
	return r.queue.Push(p)
}

func (r *Receiver) start() {
	r.wg.Add(1)
	go func() {
		defer util.Recover("[receiver.loop]")
		defer r.wg.Done()
		poll := time.Duration(r.cfg.PollTimeoutMs) * time.Millisecond
		for {
			select {
			case <-r.stopCh:
				return
			case p := <-r.queue.Chan():
				p.Mark("Exited incoming queue")
				atomic.AddUint64(&r.processed, 1)
				r.root.ProcessPackets([]*packet.Info{p})
			case <-time.After(poll):
			}
		}
	}()
}

// stop halts the worker and every node with background work. Bounded
// by the poll timeout.
func (r *Receiver) stop() {
	if !r.running.Get() {
		return
	}
	r.running.Set(false)
	close(r.stopCh)
	r.wg.Wait()
	r.root.Visit(func(n *node.Node) {
		n.Stop()
	})
	log.Debugf("receiver stopped, processed=%d dropped=%d", atomic.LoadUint64(&r.processed), r.queue.Dropped())
}
