package media

import (
	"github.com/pion/webrtc/v2"
)

// Kind is the media type of a payload format
type Kind uint8

const (
	Audio Kind = iota
	Video
)

func (k Kind) String() string {
	if k == Audio {
		return "audio"
	}
	return "video"
}

// Format describes one dynamic RTP payload type
type Format struct {
	PayloadType uint8
	Codec       string
	ClockRate   uint32
	Channels    uint8
	Kind        Kind
}

// DefaultFormats returns the payload table built from pion's default
// payload types. A new transceiver does not install it: its table starts
// empty until formats are added.
func DefaultFormats() map[uint8]Format {
	return map[uint8]Format{
		webrtc.DefaultPayloadTypeOpus: {PayloadType: webrtc.DefaultPayloadTypeOpus, Codec: "opus", ClockRate: 48000, Channels: 2, Kind: Audio},
		webrtc.DefaultPayloadTypeVP8:  {PayloadType: webrtc.DefaultPayloadTypeVP8, Codec: "VP8", ClockRate: 90000, Kind: Video},
		webrtc.DefaultPayloadTypeVP9:  {PayloadType: webrtc.DefaultPayloadTypeVP9, Codec: "VP9", ClockRate: 90000, Kind: Video},
		webrtc.DefaultPayloadTypeH264: {PayloadType: webrtc.DefaultPayloadTypeH264, Codec: "H264", ClockRate: 90000, Kind: Video},
	}
}

// SSRC association kinds, RFC 4588 / FEC grouping semantics
const (
	AssociationFID = "FID"
	AssociationFEC = "FEC"
)

// Association binds a secondary ssrc (rtx, fec) to its primary
type Association struct {
	Primary   uint32
	Secondary uint32
	Kind      string
}

// Header extension URIs the engine understands
const (
	TransportCCURI = "http://www.ietf.org/id/draft-holmer-rmcat-transport-wide-cc-extensions-01"
	AudioLevelURI  = "urn:ietf:params:rtp-hdrext:ssrc-audio-level"
)

// Extension describes one negotiated RTP header extension
type Extension struct {
	ID  uint8
	URI string
}

// Encoding describes one RTP encoding of the remote endpoint
type Encoding struct {
	SSRC    uint32
	RTXSSRC uint32
	FECSSRC uint32
}
