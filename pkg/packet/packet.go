package packet

import (
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
)

// Kind tags the current interpretation of the payload buffer. A packet
// starts Raw and is reinterpreted in place as it moves down a pipeline.
type Kind uint8

const (
	Raw Kind = iota
	SRTPProtocol
	SRTP
	SRTCP
	RTP
	AudioRTP
	VideoRTP
	RTCP
	RTCPElement
)

func (k Kind) String() string {
	switch k {
	case Raw:
		return "raw"
	case SRTPProtocol:
		return "srtp-protocol"
	case SRTP:
		return "srtp"
	case SRTCP:
		return "srtcp"
	case RTP:
		return "rtp"
	case AudioRTP:
		return "audio-rtp"
	case VideoRTP:
		return "video-rtp"
	case RTCP:
		return "rtcp"
	case RTCPElement:
		return "rtcp-element"
	}
	return "unknown"
}

// Mark is one timeline entry
type Mark struct {
	Label string
	At    int64 // ns
}

// VideoMeta carries codec metadata attached by the video parser
type VideoMeta struct {
	Keyframe     bool
	StartOfFrame bool
	TemporalID   uint8
}

// Info wraps one packet buffer plus its diagnostic timeline and the
// parsed forms accumulated along a pipeline. Single owner; the only
// fan-out (compound RTCP) clones.
type Info struct {
	Kind Kind
	Buf  []byte

	Header   *rtp.Header   // parsed while still encrypted
	RTP      *rtp.Packet   // parsed plaintext
	Compound []rtcp.Packet // parsed compound rtcp
	Element  rtcp.Packet   // one compound element

	Video         *VideoMeta
	AudioLevel    uint8
	HasAudioLevel bool

	ReceivedAt time.Time
	Timeline   []Mark

	// Snapshot keeps a copy of the pre-parse buffer for post-mortem
	// dumps on parse failure.
	Snapshot []byte
}

// New wraps a raw ingress buffer
func New(buf []byte) *Info {
	return &Info{
		Kind:       Raw,
		Buf:        buf,
		ReceivedAt: time.Now(),
	}
}

// NewAt wraps a buffer with an explicit receive time
func NewAt(buf []byte, at time.Time) *Info {
	return &Info{
		Kind:       Raw,
		Buf:        buf,
		ReceivedAt: at,
	}
}

// Mark appends a timeline entry
func (i *Info) Mark(label string) {
	i.Timeline = append(i.Timeline, Mark{Label: label, At: time.Now().UnixNano()})
}

// HasMark reports whether the timeline contains label
func (i *Info) HasMark(label string) bool {
	for _, m := range i.Timeline {
		if m.Label == label {
			return true
		}
	}
	return false
}

// Size returns the current payload size in bytes
func (i *Info) Size() int {
	return len(i.Buf)
}

// Clone returns a shallow copy with its own timeline, so sibling
// packets split from a compound diverge from the split point.
func (i *Info) Clone() *Info {
	c := *i
	c.Timeline = make([]Mark, len(i.Timeline))
	copy(c.Timeline, i.Timeline)
	return &c
}
