package encoders

// LPCMEncoder packs samples as little-endian 16-bit PCM
type LPCMEncoder struct{}

func newLPCMEncoder(AudioFormat) (AudioEncoder, error) {
	return LPCMEncoder{}, nil
}

// Encode returns one packet holding every sample in pcm
func (LPCMEncoder) Encode(pcm []int16) ([][]byte, error) {
	if len(pcm) == 0 {
		return nil, nil
	}
	return [][]byte{Int16sToBytes(pcm)}, nil
}

// FrameSize is 0: packets follow the input size
func (LPCMEncoder) FrameSize() int { return 0 }

// Close is a no-op
func (LPCMEncoder) Close() error { return nil }

// Int16sToBytes converts a slice of int16 PCM samples to little-endian bytes.
func Int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

// BytesToInt16s converts little-endian bytes to a slice of int16 PCM samples.
func BytesToInt16s(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return pcm
}

func init() {
	registeredAudioEncoders[LPCMCodec] = newLPCMEncoder
}
