package rtc

import "math"

// tone generates a G.711 mu-law sine.
type tone struct {
	step  float64
	phase float64
}

func newTone(hz float64, clockRate uint32) *tone {
	return &tone{step: 2 * math.Pi * hz / float64(clockRate)}
}

func (t *tone) frame(samples int) []byte {
	out := make([]byte, samples)
	for i := range out {
		out[i] = linearToULaw(int16(8000 * math.Sin(t.phase)))
		t.phase += t.step
		if t.phase > 2*math.Pi {
			t.phase -= 2 * math.Pi
		}
	}
	return out
}

func linearToULaw(sample int16) byte {
	const (
		bias = 0x84
		clip = 32635
	)
	s := int(sample)
	sign := 0
	if s < 0 {
		s = -s
		sign = 0x80
	}
	if s > clip {
		s = clip
	}
	s += bias
	exp := 7
	for mask := 0x4000; s&mask == 0 && exp > 0; mask >>= 1 {
		exp--
	}
	mantissa := (s >> (exp + 3)) & 0x0f
	return ^byte(sign | exp<<4 | mantissa)
}
