package packet

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCloneDivergesTimeline(t *testing.T) {
	p := New([]byte{0x80, 0x60, 0x00, 0x01})
	p.Mark("Entered parser")

	c := p.Clone()
	c.Mark("Exited splitter")

	assert.True(t, c.HasMark("Entered parser"))
	assert.False(t, p.HasMark("Exited splitter"))
	assert.Equal(t, p.ReceivedAt, c.ReceivedAt)
	assert.Equal(t, p.Buf, c.Buf)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "raw", Raw.String())
	assert.Equal(t, "audio-rtp", AudioRTP.String())
	assert.Equal(t, "rtcp-element", RTCPElement.String())
}

func TestSize(t *testing.T) {
	p := New(make([]byte, 42))
	assert.Equal(t, 42, p.Size())
}
