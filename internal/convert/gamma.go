package convert

import "math"

// GammaLUT maps an 8-bit channel value v to 255*(v/255)^gamma.
type GammaLUT [256]uint8

// NewGammaLUT builds the lookup table for gamma. The result for gamma 1.0 is
// the identity table.
func NewGammaLUT(gamma float64) *GammaLUT {
	var lut GammaLUT
	for i := range lut {
		v := math.Pow(float64(i)/255.0, gamma)*255.0 + 0.5
		if v > 255 {
			v = 255
		}
		//nolint:gosec // clamped to [0,255]
		lut[i] = uint8(v)
	}
	return &lut
}

// Apply rewrites the colour channels of an RGBA pixel slice in place.
// Alpha is left untouched.
func (l *GammaLUT) Apply(pix []uint8) {
	for i := 0; i+3 < len(pix); i += 4 {
		pix[i] = l[pix[i]]
		pix[i+1] = l[pix[i+1]]
		pix[i+2] = l[pix[i+2]]
	}
}
