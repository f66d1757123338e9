// Package vp8 parses the VP8 RTP payload descriptor (RFC 7741), just
// enough for an SFU to spot frame boundaries and keyframes without
// decoding.
package vp8

const (
	xBit = 0x80
	sBit = 0x10
	pid  = 0x07

	iBit = 0x80
	lBit = 0x40
	tBit = 0x20
	kBit = 0x10

	mBit = 0x80

	// inverse keyframe flag of the VP8 payload header
	pBit = 0x01
)

// PayloadDescriptorSize returns the descriptor length in bytes, or -1
// when the payload is malformed.
func PayloadDescriptorSize(payload []byte) int {
	if len(payload) < 1 {
		return -1
	}
	if payload[0]&xBit == 0 {
		return 1
	}
	if len(payload) < 2 {
		return -1
	}
	size := 2
	ext := payload[1]
	if ext&iBit != 0 {
		if len(payload) < size+1 {
			return -1
		}
		size++
		if payload[2]&mBit != 0 {
			size++
		}
	}
	if ext&lBit != 0 {
		size++
	}
	if ext&(tBit|kBit) != 0 {
		size++
	}
	if len(payload) < size {
		return -1
	}
	return size
}

// IsValid reports whether payload holds a descriptor plus at least one
// payload byte.
func IsValid(payload []byte) bool {
	size := PayloadDescriptorSize(payload)
	return size > 0 && len(payload) > size
}

// IsStartOfFrame reports whether this packet begins a VP8 partition 0,
// the start of a frame.
func IsStartOfFrame(payload []byte) bool {
	if len(payload) < 1 {
		return false
	}
	return payload[0]&sBit != 0 && payload[0]&pid == 0
}

// IsKeyFrame reports whether this packet starts a keyframe. Only the
// first packet of a frame carries the payload header P bit.
func IsKeyFrame(payload []byte) bool {
	if !IsValid(payload) || !IsStartOfFrame(payload) {
		return false
	}
	size := PayloadDescriptorSize(payload)
	return payload[size]&pBit == 0
}

// TemporalID returns the temporal layer id, or 0 when the descriptor
// has no T byte.
func TemporalID(payload []byte) uint8 {
	if len(payload) < 2 || payload[0]&xBit == 0 {
		return 0
	}
	ext := payload[1]
	if ext&tBit == 0 {
		return 0
	}
	idx := 2
	if ext&iBit != 0 {
		idx++
		if len(payload) > 2 && payload[2]&mBit != 0 {
			idx++
		}
	}
	if ext&lBit != 0 {
		idx++
	}
	if len(payload) <= idx {
		return 0
	}
	return payload[idx] >> 6
}
