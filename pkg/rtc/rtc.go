// Package rtc implements the per-endpoint media transceiver of an SFU:
// the receive pipeline that turns SRTP/SRTCP off the wire into clean,
// classified RTP and terminated RTCP, the symmetric send pipeline, and
// the transceiver that owns both.
package rtc

import (
	"errors"

	"github.com/pion/ion-mt/pkg/packet"
	"github.com/pion/rtcp"
)

const (
	// names shared between topology wiring and tests
	nodeRootParser      = "SRTP protocol parser"
	nodeProtocolDemux   = "SRTP/SRTCP demuxer"
	nodeSRTPParser      = "SRTP parser"
	nodePayloadFilter   = "Payload type filter"
	nodeTCCGenerator    = "TCC feedback generator"
	nodeSRTPDecrypt     = "SRTP decrypt"
	nodeMediaTypeParser = "Media type parser"
	nodeStatTracker     = "Incoming stats tracker"
	nodeMediaDemux      = "Media type demuxer"
	nodeAudioLevel      = "Audio level reader"
	nodeRtxHandler      = "RTX handler"
	nodePaddingTerm     = "Padding termination"
	nodeVideoParser     = "Video parser"
	nodeNackGenerator   = "Retransmission requester"
	nodeRTPHandler      = "RTP handler"
	nodeSRTCPParser     = "SRTCP parser"
	nodeSRTCPDecrypt    = "SRTCP decrypt"
	nodeSnapshot        = "Pre-parse snapshot"
	nodeRTCPParser      = "RTCP parser"
	nodeRTCPSplitter    = "Compound RTCP splitter"
	nodeRTCPTermination = "RTCP termination"
	nodeRTCPHandler     = "RTCP handler"
	nodeSendClassifier  = "Outgoing classifier"
	nodeSendDemux       = "Outgoing demuxer"
	nodeVideoProbing    = "Video probing"
	nodeSRTPProtect     = "SRTP protect"
	nodeSRTCPProtect    = "SRTCP protect"
	nodeOutgoingQueue   = "Outgoing queue"
)

var (
	errStopped = errors.New("rtc: transceiver stopped")
)

// PacketHandler receives a batch of fully processed packets. Installed
// by the hosting SFU at the pipeline tails.
type PacketHandler func(pkts []*packet.Info)

// rtcpSender injects locally generated RTCP back into the send side
type rtcpSender func(pkt rtcp.Packet)

// BandwidthEstimator is the sink for congestion feedback observed on
// this transceiver. Estimation itself lives outside the engine.
type BandwidthEstimator interface {
	OnFeedback(pkt rtcp.Packet)
}
