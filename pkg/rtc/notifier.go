package rtc

import (
	"time"

	"github.com/chuckpreslar/emission"
	"github.com/pion/rtcp"
)

// notifier topics
const (
	topicSR   = "sr"
	topicRR   = "rr"
	topicNack = "nack"
	topicPLI  = "pli"
	topicFIR  = "fir"
	topicREMB = "remb"
	topicTCC  = "tcc"
)

// RtcpEventNotifier is the synchronous pub/sub bridging parsed RTCP to
// its consumers: the report generators, the connection stats and the
// congestion feedback sink. The only publisher is RTCP termination on
// ingress; RTCP leaving through the sender is not published here.
type RtcpEventNotifier struct {
	emitter *emission.Emitter
}

// NewRtcpEventNotifier returns an empty notifier
func NewRtcpEventNotifier() *RtcpEventNotifier {
	return &RtcpEventNotifier{emitter: emission.NewEmitter()}
}

// OnSenderReport subscribes to incoming sender reports
func (n *RtcpEventNotifier) OnSenderReport(fn func(sr *rtcp.SenderReport, at time.Time)) {
	n.emitter.On(topicSR, fn)
}

// OnReceiverReport subscribes to incoming receiver reports
func (n *RtcpEventNotifier) OnReceiverReport(fn func(rr *rtcp.ReceiverReport, at time.Time)) {
	n.emitter.On(topicRR, fn)
}

// OnNack subscribes to incoming retransmission requests
func (n *RtcpEventNotifier) OnNack(fn func(nack *rtcp.TransportLayerNack)) {
	n.emitter.On(topicNack, fn)
}

// OnPLI subscribes to incoming picture loss indications
func (n *RtcpEventNotifier) OnPLI(fn func(pli *rtcp.PictureLossIndication)) {
	n.emitter.On(topicPLI, fn)
}

// OnFIR subscribes to incoming full intra requests
func (n *RtcpEventNotifier) OnFIR(fn func(fir *rtcp.FullIntraRequest)) {
	n.emitter.On(topicFIR, fn)
}

// OnREMB subscribes to incoming receiver estimated max bitrate
func (n *RtcpEventNotifier) OnREMB(fn func(remb *rtcp.ReceiverEstimatedMaximumBitrate)) {
	n.emitter.On(topicREMB, fn)
}

// OnTCC subscribes to incoming transport-wide congestion feedback
func (n *RtcpEventNotifier) OnTCC(fn func(tcc *rtcp.TransportLayerCC)) {
	n.emitter.On(topicTCC, fn)
}

func (n *RtcpEventNotifier) emitSR(sr *rtcp.SenderReport, at time.Time) {
	n.emitter.Emit(topicSR, sr, at)
}

func (n *RtcpEventNotifier) emitRR(rr *rtcp.ReceiverReport, at time.Time) {
	n.emitter.Emit(topicRR, rr, at)
}

func (n *RtcpEventNotifier) emitNack(nack *rtcp.TransportLayerNack) {
	n.emitter.Emit(topicNack, nack)
}

func (n *RtcpEventNotifier) emitPLI(pli *rtcp.PictureLossIndication) {
	n.emitter.Emit(topicPLI, pli)
}

func (n *RtcpEventNotifier) emitFIR(fir *rtcp.FullIntraRequest) {
	n.emitter.Emit(topicFIR, fir)
}

func (n *RtcpEventNotifier) emitREMB(remb *rtcp.ReceiverEstimatedMaximumBitrate) {
	n.emitter.Emit(topicREMB, remb)
}

func (n *RtcpEventNotifier) emitTCC(tcc *rtcp.TransportLayerCC) {
	n.emitter.Emit(topicTCC, tcc)
}
