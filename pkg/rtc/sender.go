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

// outgoingClassifier tags each packet as audio, video or RTCP ahead of
// the outgoing demux. Locally generated RTCP arrives pre-tagged;
// everything else is classified by payload type.
type outgoingClassifier struct {
	mu      sync.RWMutex
	formats map[uint8]media.Format
}

func newOutgoingClassifier() *outgoingClassifier {
	return &outgoingClassifier{formats: make(map[uint8]media.Format)}
}

func (c *outgoingClassifier) Transform(pkts []*packet.Info) []*packet.Info {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*packet.Info
	for _, p := range pkts {
		if p.Kind == packet.RTCP || p.Kind == packet.RTCPElement {
			out = append(out, p)
			continue
		}
		if p.RTP == nil {
			parsed := &rtp.Packet{}
			if err := parsed.Unmarshal(p.Buf); err != nil {
				continue
			}
			p.RTP = parsed
		}
		format, ok := c.formats[p.RTP.PayloadType]
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

func (c *outgoingClassifier) HandleEvent(ev node.Event) {
	switch e := ev.(type) {
	case node.PayloadTypeAdded:
		c.mu.Lock()
		c.formats[e.Format.PayloadType] = e.Format
		c.mu.Unlock()
	case node.PayloadTypesCleared:
		c.mu.Lock()
		c.formats = make(map[uint8]media.Format)
		c.mu.Unlock()
	}
}

// queueWriter is the terminal node of the send pipeline: a
// non-blocking put into the bounded outgoing queue.
type queueWriter struct {
	out *Queue
}

func (w *queueWriter) Transform(pkts []*packet.Info) []*packet.Info {
	for _, p := range pkts {
		w.out.Push(p)
	}
	return nil
}

// Sender owns the outgoing pipeline: classify, per-kind processing,
// protect, then the outgoing queue drained by the transport layer.
type Sender struct {
	cfg   conf.Engine
	root  *node.Node
	queue *Queue // pipeline input
	out   *Queue // drained by the transport layer

	srtpHolder  *transformerHolder
	srtcpHolder *transformerHolder

	processed uint64
	running   util.AtomicBool
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

func newSender(cfg conf.Engine) *Sender {
	s := &Sender{
		cfg:         cfg,
		queue:       NewQueue(cfg.QueueSize),
		out:         NewQueue(cfg.QueueSize),
		srtpHolder:  newTransformerHolder(),
		srtcpHolder: newTransformerHolder(),
		stopCh:      make(chan struct{}),
	}
	s.root = s.buildPipeline()
	s.running.Set(true)
	s.start()
	return s
}

// buildPipeline wires the outgoing tree. The audio and video branches
// fan in at the SRTP protect node, and everything fans in again at the
// queue writer.
func (s *Sender) buildPipeline() *node.Node {
	queueNode := node.New(nodeOutgoingQueue, &queueWriter{out: s.out})

	srtpProtect := node.New(nodeSRTPProtect, &srtpProtecter{holder: s.srtpHolder})
	srtpProtect.Attach(queueNode)

	srtcpProtect := node.New(nodeSRTCPProtect, &srtpProtecter{holder: s.srtcpHolder, rtcp: true})
	srtcpProtect.Attach(queueNode)

	videoHead := node.Simple(nodeVideoProbing, func(pkts []*packet.Info) []*packet.Info {
		// probing and padding insertion hang off this node; the
		// estimator deciding the rate lives outside the engine
		return pkts
	})
	videoHead.Attach(srtpProtect)

	return node.NewBuilder().
		Node(node.New(nodeSendClassifier, newOutgoingClassifier())).
		Demux(nodeSendDemux,
			node.Path("rtcp", func(p *packet.Info) bool {
				return p.Kind == packet.RTCP || p.Kind == packet.RTCPElement
			}, srtcpProtect),
			node.Path("audio", func(p *packet.Info) bool { return p.Kind == packet.AudioRTP }, srtpProtect),
			node.Path("video", func(p *packet.Info) bool { return p.Kind == packet.VideoRTP }, videoHead),
		).
		Build()
}

// send admits a batch into the pipeline input queue
func (s *Sender) send(pkts []*packet.Info) {
	if !s.running.Get() {
		return
	}
	for _, p := range pkts {
		p.Mark("Entered outgoing queue")
		s.queue.Push(p)
	}
}

func (s *Sender) start() {
	s.wg.Add(1)
	go func() {
		defer util.Recover("[sender.loop]")
		defer s.wg.Done()
		poll := time.Duration(s.cfg.PollTimeoutMs) * time.Millisecond
		for {
			select {
			case <-s.stopCh:
				return
			case p := <-s.queue.Chan():
				p.Mark("Exited outgoing queue")
				atomic.AddUint64(&s.processed, 1)
				s.root.ProcessPackets([]*packet.Info{p})
			case <-time.After(poll):
			}
		}
	}()
}

func (s *Sender) stop() {
	if !s.running.Get() {
		return
	}
	s.running.Set(false)
	close(s.stopCh)
	s.wg.Wait()
	s.root.Visit(func(n *node.Node) {
		n.Stop()
	})
	log.Debugf("sender stopped, processed=%d dropped=%d", atomic.LoadUint64(&s.processed), s.queue.Dropped())
}
