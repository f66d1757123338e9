package rtc

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/dtls/v2"
	"github.com/pion/ion-mt/pkg/conf"
	"github.com/pion/ion-mt/pkg/log"
	"github.com/pion/ion-mt/pkg/media"
	"github.com/pion/ion-mt/pkg/node"
	"github.com/pion/ion-mt/pkg/packet"
	"github.com/pion/ion-mt/pkg/srtp"
	"github.com/pion/ion-mt/pkg/util"
	"github.com/pion/rtcp"
)

// Transceiver terminates one peer's RTP/RTCP stream: it owns the
// receive and send pipelines, their workers, the SRTP key install, the
// RTCP notifier and the outgoing queue.
type Transceiver struct {
	id  string
	cfg conf.Engine

	notifier  *RtcpEventNotifier
	connStats *ConnectionStats
	registry  *StreamStatsRegistry
	receiver  *Receiver
	sender    *Sender
	rrGen     *receiverReportGenerator

	mu           sync.RWMutex
	formats      map[uint8]media.Format
	extensions   map[uint8]media.Extension
	associations []media.Association
	ssrcs        sync.Map

	running util.AtomicBool
}

// NewTransceiver builds a transceiver with the given tunables and
// starts its workers. Keys come later via SetSrtpInformation.
func NewTransceiver(cfg conf.Engine) *Transceiver {
	t := &Transceiver{
		id:         uuid.New().String(),
		cfg:        cfg,
		notifier:   NewRtcpEventNotifier(),
		registry:   newStreamStatsRegistry(),
		formats:    make(map[uint8]media.Format),
		extensions: make(map[uint8]media.Extension),
	}
	t.connStats = newConnectionStats(t.notifier)
	t.sender = newSender(cfg)
	send := rtcpSender(t.sendLocalRTCP)
	t.receiver = newReceiver(cfg, t.registry, t.notifier, send)
	t.rrGen = newReceiverReportGenerator(t.registry, t.connStats, send, time.Duration(cfg.RRCycleMs)*time.Millisecond)
	t.running.Set(true)
	addTransceiver(t)
	log.Infof("NewTransceiver id=%s", t.id)
	return t
}

// ID returns the transceiver's instance id
func (t *Transceiver) ID() string {
	return t.id
}

// Notifier exposes the RTCP event pub/sub to the hosting SFU
func (t *Transceiver) Notifier() *RtcpEventNotifier {
	return t.notifier
}

// HandleIncomingPacket admits one raw datagram into the bounded
// receive queue without blocking. Overflow drops and counts.
func (t *Transceiver) HandleIncomingPacket(buf []byte) error {
	if !t.running.Get() {
		return errStopped
	}
	t.receiver.enqueue(packet.New(buf))
	return nil
}

// SendRtp runs a batch of forwardable RTP through the send pipeline
func (t *Transceiver) SendRtp(pkts []*packet.Info) {
	t.sender.send(pkts)
}

// SendRtcp enters the send pipeline at the RTCP stage
func (t *Transceiver) SendRtcp(pkts []*packet.Info) {
	now := time.Now()
	for _, p := range pkts {
		p.Kind = packet.RTCP
		if compound, err := rtcp.Unmarshal(p.Buf); err == nil {
			for _, element := range compound {
				if sr, ok := element.(*rtcp.SenderReport); ok {
					t.connStats.recordSentSR(sr, now)
				}
			}
		}
	}
	t.sender.send(pkts)
}

// sendLocalRTCP feeds RTCP generated inside the transceiver (RR, NACK,
// TCC feedback) into the send pipeline.
func (t *Transceiver) sendLocalRTCP(pkt rtcp.Packet) {
	if !t.running.Get() {
		return
	}
	raw, err := pkt.Marshal()
	if err != nil {
		log.Warnf("local rtcp marshal failed: %v", err)
		return
	}
	p := packet.New(raw)
	p.Kind = packet.RTCP
	if sr, ok := pkt.(*rtcp.SenderReport); ok {
		t.connStats.recordSentSR(sr, p.ReceivedAt)
	}
	t.sender.send([]*packet.Info{p})
}

// SetIncomingRtpHandler rebinds the RTP tail atomically
func (t *Transceiver) SetIncomingRtpHandler(h PacketHandler) {
	t.receiver.rtpHandler.Set(h)
}

// SetIncomingRtcpHandler rebinds the RTCP tail atomically
func (t *Transceiver) SetIncomingRtcpHandler(h PacketHandler) {
	t.receiver.rtcpHandler.Set(h)
}

// SetAudioLevelListener observes extracted ssrc-audio-levels
func (t *Transceiver) SetAudioLevelListener(l AudioLevelListener) {
	t.receiver.audioLevel.setListener(l)
}

// SetBandwidthEstimator installs the congestion feedback sink
func (t *Transceiver) SetBandwidthEstimator(e BandwidthEstimator) {
	t.receiver.termination.setEstimator(e)
}

// broadcast delivers ev to every node of both graphs
func (t *Transceiver) broadcast(ev node.Event) {
	node.Broadcast(t.receiver.root, ev)
	node.Broadcast(t.sender.root, ev)
}

// AddReceiveSsrc announces a remote ssrc of the given media kind
func (t *Transceiver) AddReceiveSsrc(ssrc uint32, kind media.Kind) {
	t.ssrcs.Store(ssrc, kind)
	t.broadcast(node.ReceiveSSRCAdded{SSRC: ssrc, Kind: kind})
}

// RemoveReceiveSsrc retires a remote ssrc
func (t *Transceiver) RemoveReceiveSsrc(ssrc uint32) {
	t.ssrcs.Delete(ssrc)
	t.broadcast(node.ReceiveSSRCRemoved{SSRC: ssrc})
}

// ReceiveSsrcs snapshots the known remote ssrcs
func (t *Transceiver) ReceiveSsrcs() []uint32 {
	var out []uint32
	t.ssrcs.Range(func(k, v interface{}) bool {
		out = append(out, k.(uint32))
		return true
	})
	return out
}

// AddDynamicRtpPayloadType installs a negotiated payload format
func (t *Transceiver) AddDynamicRtpPayloadType(format media.Format) {
	t.mu.Lock()
	t.formats[format.PayloadType] = format
	t.mu.Unlock()
	t.broadcast(node.PayloadTypeAdded{Format: format})
}

// ClearDynamicRtpPayloadTypes empties the payload table everywhere
func (t *Transceiver) ClearDynamicRtpPayloadTypes() {
	t.mu.Lock()
	t.formats = make(map[uint8]media.Format)
	t.mu.Unlock()
	t.broadcast(node.PayloadTypesCleared{})
}

// AddRtpExtension installs a negotiated header extension
func (t *Transceiver) AddRtpExtension(ext media.Extension) {
	t.mu.Lock()
	t.extensions[ext.ID] = ext
	t.mu.Unlock()
	t.broadcast(node.ExtensionAdded{Ext: ext})
}

// ClearRtpExtensions empties the extension table everywhere
func (t *Transceiver) ClearRtpExtensions() {
	t.mu.Lock()
	t.extensions = make(map[uint8]media.Extension)
	t.mu.Unlock()
	t.broadcast(node.ExtensionsCleared{})
}

// AddSsrcAssociation binds a secondary ssrc (rtx, fec) to its primary
func (t *Transceiver) AddSsrcAssociation(primary, secondary uint32, kind string) {
	assoc := media.Association{Primary: primary, Secondary: secondary, Kind: kind}
	t.mu.Lock()
	t.associations = append(t.associations, assoc)
	t.mu.Unlock()
	t.broadcast(node.SSRCAssociationAdded{Association: assoc})
}

// SetRtpEncodings announces the remote encodings, registering their
// rtx/fec associations along the way. The encoding ssrcs are not added
// as receive ssrcs.
func (t *Transceiver) SetRtpEncodings(encodings []media.Encoding) {
	for _, enc := range encodings {
		if enc.RTXSSRC != 0 {
			t.AddSsrcAssociation(enc.SSRC, enc.RTXSSRC, media.AssociationFID)
		}
		if enc.FECSSRC != 0 {
			t.AddSsrcAssociation(enc.SSRC, enc.FECSSRC, media.AssociationFEC)
		}
	}
	t.broadcast(node.EncodingsAdded{Encodings: encodings})
}

// SetSrtpInformation derives keying material from the DTLS context and
// installs SRTP and SRTCP transformers on both directions.
func (t *Transceiver) SetSrtpInformation(profile dtls.SRTPProtectionProfile, exporter srtp.KeyingMaterialExporter, client bool) error {
	rtpT, rtcpT, err := srtp.NewTransformerPair(srtp.Config{
		Profile:       profile,
		Exporter:      exporter,
		Client:        client,
		LoggerFactory: log.NewPionLoggerFactory(),
	})
	if err != nil {
		return err
	}
	t.InstallTransformers(rtpT, rtcpT)
	return nil
}

// InstallTransformers swaps the crypto transformers on every node that
// holds one. Identity transformers make the engine a loopback.
func (t *Transceiver) InstallTransformers(rtpT, rtcpT srtp.PacketTransformer) {
	t.receiver.srtpHolder.Set(rtpT)
	t.receiver.srtcpHolder.Set(rtcpT)
	t.sender.srtpHolder.Set(rtpT)
	t.sender.srtcpHolder.Set(rtcpT)
	log.Debugf("transceiver %s: transformers installed", t.id)
}

// OutgoingQueue is the bounded FIFO drained by the transport layer
func (t *Transceiver) OutgoingQueue() *Queue {
	return t.sender.out
}

// IncomingStats snapshots the per-ssrc arrival statistics
func (t *Transceiver) IncomingStats() []StreamSnapshot {
	return t.registry.Snapshots()
}

// RTT returns the current round-trip estimate
func (t *Transceiver) RTT() time.Duration {
	return t.connStats.RTT()
}

// Stats collects the node stats of both graphs, receive side first
func (t *Transceiver) Stats() []*node.StatsBlock {
	blocks := node.Collect(t.receiver.root)
	return append(blocks, node.Collect(t.sender.root)...)
}

// StatsReport renders the full stats tree
func (t *Transceiver) StatsReport() string {
	return node.Report(t.receiver.root) + node.Report(t.sender.root)
}

// Stop drains the workers and releases background tasks. Both worker
// loops exit within one poll timeout.
func (t *Transceiver) Stop() {
	if !t.running.Get() {
		return
	}
	t.running.Set(false)
	t.rrGen.Stop()
	t.receiver.stop()
	t.sender.stop()
	delTransceiver(t.id)
	log.Infof("Transceiver.Stop id=%s", t.id)
}
