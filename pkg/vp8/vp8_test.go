package vp8

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyFrame(t *testing.T) {
	// S=1, PID=0, no extension, payload header P=0
	keyframe := []byte{0x10, 0x00, 0x9d, 0x01, 0x2a}
	assert.True(t, IsStartOfFrame(keyframe))
	assert.True(t, IsKeyFrame(keyframe))

	// same descriptor, P=1: interframe
	inter := []byte{0x10, 0x01, 0x2a}
	assert.True(t, IsStartOfFrame(inter))
	assert.False(t, IsKeyFrame(inter))
}

func TestNotStartOfFrame(t *testing.T) {
	// S=0
	assert.False(t, IsStartOfFrame([]byte{0x00, 0x00}))
	// S=1 but PID=1
	assert.False(t, IsStartOfFrame([]byte{0x11, 0x00}))
	assert.False(t, IsKeyFrame([]byte{0x00, 0x00}))
}

func TestDescriptorSize(t *testing.T) {
	assert.Equal(t, 1, PayloadDescriptorSize([]byte{0x10, 0x00}))
	// X + I, 7 bit picture id
	assert.Equal(t, 3, PayloadDescriptorSize([]byte{0x90, 0x80, 0x11, 0x00}))
	// X + I, 15 bit picture id
	assert.Equal(t, 4, PayloadDescriptorSize([]byte{0x90, 0x80, 0x91, 0x22, 0x00}))
	// X + I + L + T
	assert.Equal(t, 5, PayloadDescriptorSize([]byte{0x90, 0xe0, 0x11, 0x01, 0x40, 0x00}))
	// truncated
	assert.Equal(t, -1, PayloadDescriptorSize([]byte{}))
	assert.Equal(t, -1, PayloadDescriptorSize([]byte{0x90}))
}

func TestKeyFrameWithExtendedDescriptor(t *testing.T) {
	// X + I + T, S=1, PID=0, 7 bit picture id, TID=2, P=0
	payload := []byte{0x90 | 0x10, 0x80 | 0x20, 0x11, 0x80, 0x00, 0xaa}
	assert.True(t, IsKeyFrame(payload))
	assert.Equal(t, uint8(2), TemporalID(payload))
}
