package audio

import "encoding/binary"

// Resample converts little-endian 16-bit PCM between sample rates using
// linear interpolation. Quality is adequate for narrowband speech; the
// telephony leg is 8kHz regardless, so a polyphase filter buys nothing
// here.
func Resample(pcm []byte, inRate, outRate int) []byte {
	if inRate == outRate || len(pcm) < 2 || inRate <= 0 || outRate <= 0 {
		return pcm
	}
	n := len(pcm) / 2
	outN := int(int64(n) * int64(outRate) / int64(inRate))
	if outN == 0 {
		return nil
	}
	out := make([]byte, outN*2)
	step := float64(inRate) / float64(outRate)
	for i := 0; i < outN; i++ {
		pos := float64(i) * step
		idx := int(pos)
		frac := pos - float64(idx)
		s0 := readSample(pcm, idx, n)
		s1 := readSample(pcm, idx+1, n)
		v := float64(s0) + (float64(s1)-float64(s0))*frac
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}

func readSample(pcm []byte, i, n int) int16 {
	if i >= n {
		i = n - 1
	}
	return int16(binary.LittleEndian.Uint16(pcm[i*2:]))
}
