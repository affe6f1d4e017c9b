// Package audio converts between the telephony codec (G.711 mu-law at
// 8kHz) and the linear PCM formats speech models consume. All PCM is
// 16-bit little-endian mono.
package audio

const (
	mulawBias = 0x84
	mulawClip = 32635
)

var mulawSegments = [8]int32{0xFF, 0x1FF, 0x3FF, 0x7FF, 0xFFF, 0x1FFF, 0x3FFF, 0x7FFF}

// EncodeMulaw compresses a single linear PCM sample to mu-law.
func EncodeMulaw(sample int16) byte {
	v := int32(sample)
	mask := int32(0xFF)
	if v < 0 {
		v = mulawBias - v
		mask = 0x7F
	} else {
		v += mulawBias
	}
	if v > mulawClip {
		v = mulawClip
	}

	seg := int32(8)
	for i, end := range mulawSegments {
		if v <= end {
			seg = int32(i)
			break
		}
	}
	if seg >= 8 {
		return byte(0x7F ^ mask)
	}
	uval := (seg << 4) | ((v >> (seg + 3)) & 0xF)
	return byte(uval ^ mask)
}

// DecodeMulaw expands a single mu-law byte to a linear PCM sample.
func DecodeMulaw(u byte) int16 {
	uv := int32(^u)
	t := ((uv & 0x0F) << 3) + mulawBias
	t <<= uint((uv & 0x70) >> 4)
	if uv&0x80 != 0 {
		return int16(mulawBias - t)
	}
	return int16(t - mulawBias)
}

// MulawToPCM expands a mu-law frame into little-endian 16-bit PCM.
func MulawToPCM(in []byte) []byte {
	out := make([]byte, len(in)*2)
	for i, u := range in {
		s := DecodeMulaw(u)
		out[i*2] = byte(s)
		out[i*2+1] = byte(uint16(s) >> 8)
	}
	return out
}

// PCMToMulaw compresses little-endian 16-bit PCM into mu-law. A trailing
// odd byte is dropped.
func PCMToMulaw(in []byte) []byte {
	n := len(in) / 2
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		s := int16(uint16(in[i*2]) | uint16(in[i*2+1])<<8)
		out[i] = EncodeMulaw(s)
	}
	return out
}
