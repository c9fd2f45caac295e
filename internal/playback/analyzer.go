package playback

import "math"

// fftSize is the window the analyzer reads from the tap: ~21ms at 24kHz,
// close to one display frame.
const fftSize = 512

// Analyzer folds an FFT of the tap's recent samples into a fixed number of
// magnitude bands for the visualizer. It only ever reads playback data;
// staleness of a frame is acceptable and expected.
type Analyzer struct {
	bands int
}

func NewAnalyzer(bands int) *Analyzer {
	return &Analyzer{bands: bands}
}

// Magnitudes returns one magnitude per band, averaged over the bins the
// band covers. Input length must be a power of two.
func (a *Analyzer) Magnitudes(samples []float64) []float64 {
	n := len(samples)
	if n == 0 || n&(n-1) != 0 {
		return nil
	}

	re := make([]float64, n)
	im := make([]float64, n)
	for i, s := range samples {
		// Hann window keeps segment edges from smearing across bands.
		w := 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
		re[i] = s * w
	}
	fft(re, im)

	half := n / 2
	binsPerBand := half / a.bands
	if binsPerBand == 0 {
		binsPerBand = 1
	}
	out := make([]float64, a.bands)
	for b := 0; b < a.bands; b++ {
		var sum float64
		count := 0
		for k := b * binsPerBand; k < (b+1)*binsPerBand && k < half; k++ {
			sum += math.Hypot(re[k], im[k])
			count++
		}
		if count > 0 {
			out[b] = sum / float64(count)
		}
	}
	return out
}

// fft is an in-place iterative radix-2 transform.
func fft(re, im []float64) {
	n := len(re)
	// Bit-reversal permutation.
	for i, j := 0, 0; i < n; i++ {
		if i < j {
			re[i], re[j] = re[j], re[i]
			im[i], im[j] = im[j], im[i]
		}
		m := n >> 1
		for m >= 1 && j&m != 0 {
			j ^= m
			m >>= 1
		}
		j |= m
	}
	for size := 2; size <= n; size <<= 1 {
		half := size / 2
		step := -2 * math.Pi / float64(size)
		for start := 0; start < n; start += size {
			for k := 0; k < half; k++ {
				angle := step * float64(k)
				wr, wi := math.Cos(angle), math.Sin(angle)
				i1 := start + k
				i2 := start + k + half
				tr := wr*re[i2] - wi*im[i2]
				ti := wr*im[i2] + wi*re[i2]
				re[i2] = re[i1] - tr
				im[i2] = im[i1] - ti
				re[i1] += tr
				im[i1] += ti
			}
		}
	}
}
