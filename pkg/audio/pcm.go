package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
)

// clampSample limits s to [-1, 1]. NaN becomes silence.
func clampSample(s float64) float64 {
	if math.IsNaN(s) {
		return 0
	}
	return max(-1, min(1, s))
}

// FloatToPCM16 converts normalised float samples to signed 16-bit
// little-endian PCM. Each sample is clamped to [-1, 1] and scaled by 32767,
// so out-of-range input saturates instead of wrapping.
func FloatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := clampSample(float64(s))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v*0x7FFF)))
	}
	return out
}

// PCM16ToFloat reinterprets signed 16-bit little-endian PCM as normalised
// floats by dividing each sample by 32768. An odd byte count is a decode
// error.
func PCM16ToFloat(pcm []byte) ([]float32, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("%w: odd byte count %d", ErrDecode, len(pcm))
	}
	out := make([]float32, len(pcm)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768
	}
	return out, nil
}

// EncodeChunk serialises raw bytes to a Transport Chunk (standard base64).
func EncodeChunk(pcm []byte) string {
	return base64.StdEncoding.EncodeToString(pcm)
}

// DecodeChunk reverses EncodeChunk.
func DecodeChunk(chunk string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(chunk)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return b, nil
}

// EncodeFrame converts float samples straight to a Transport Chunk.
func EncodeFrame(samples []float32) string {
	return EncodeChunk(FloatToPCM16(samples))
}

// DecodeFrame converts a Transport Chunk back into normalised float samples.
func DecodeFrame(chunk string) ([]float32, error) {
	pcm, err := DecodeChunk(chunk)
	if err != nil {
		return nil, err
	}
	return PCM16ToFloat(pcm)
}
