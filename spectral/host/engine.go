package host

import (
	"fmt"
	"math/cmplx"

	dspfft "github.com/mjibson/go-dsp/fft"
	"gonum.org/v1/gonum/dsp/fourier"
)

// Engine selects the 1-D FFT implementation used by host plans
type Engine uint8

const (
	EngineGonum Engine = iota // gonum.org/v1/gonum/dsp/fourier, real FFT on the last axis
	EngineGoDSP               // github.com/mjibson/go-dsp/fft, complex FFTs folded to the half spectrum
)

func (e Engine) String() string {
	switch e {
	case EngineGonum:
		return "gonum"
	case EngineGoDSP:
		return "go-dsp"
	default:
		return fmt.Sprintf("Engine(%d)", uint8(e))
	}
}

// lineTransform performs the unnormalized 1-D transforms a plan is built from.
// The last spatial axis uses the real transforms, every other axis the
// complex ones. Instances are not safe for concurrent use.
type lineTransform interface {
	realForward(dst []complex128, src []float64)
	realInverse(dst []float64, src []complex128)
	forward(axis int, dst, src []complex128)
	inverse(axis int, dst, src []complex128)
}

func newLineTransform(e Engine, spatial []int) (lineTransform, error) {
	switch e {
	case EngineGonum:
		return newGonumTransform(spatial), nil
	case EngineGoDSP:
		return &godspTransform{spatial: append([]int(nil), spatial...)}, nil
	default:
		return nil, fmt.Errorf("unknown FFT engine %v", e)
	}
}

// gonumTransform holds precomputed plans for every axis
type gonumTransform struct {
	real  *fourier.FFT
	cmplx []*fourier.CmplxFFT
}

func newGonumTransform(spatial []int) *gonumTransform {
	last := len(spatial) - 1
	gt := &gonumTransform{
		real:  fourier.NewFFT(spatial[last]),
		cmplx: make([]*fourier.CmplxFFT, last),
	}
	for d := 0; d < last; d++ {
		gt.cmplx[d] = fourier.NewCmplxFFT(spatial[d])
	}
	return gt
}

func (gt *gonumTransform) realForward(dst []complex128, src []float64) {
	gt.real.Coefficients(dst, src)
}

func (gt *gonumTransform) realInverse(dst []float64, src []complex128) {
	gt.real.Sequence(dst, src)
}

func (gt *gonumTransform) forward(axis int, dst, src []complex128) {
	gt.cmplx[axis].Coefficients(dst, src)
}

func (gt *gonumTransform) inverse(axis int, dst, src []complex128) {
	gt.cmplx[axis].Sequence(dst, src)
}

// godspTransform uses go-dsp, whose inverse is normalized by 1/n; the
// normalization is undone so both engines share one convention.
type godspTransform struct {
	spatial []int
	full    []complex128
}

func (gt *godspTransform) realForward(dst []complex128, src []float64) {
	copy(dst, dspfft.FFTReal(src))
}

func (gt *godspTransform) realInverse(dst []float64, src []complex128) {
	n := len(dst)
	if cap(gt.full) < n {
		gt.full = make([]complex128, n)
	}
	full := gt.full[:n]
	h := len(src)
	for k := 0; k < n; k++ {
		if k < h {
			full[k] = src[k]
		} else {
			full[k] = cmplx.Conj(src[n-k])
		}
	}
	seq := dspfft.IFFT(full)
	for i := range dst {
		dst[i] = real(seq[i]) * float64(n)
	}
}

func (gt *godspTransform) forward(axis int, dst, src []complex128) {
	copy(dst, dspfft.FFT(src))
}

func (gt *godspTransform) inverse(axis int, dst, src []complex128) {
	seq := dspfft.IFFT(src)
	scale := complex(float64(len(src)), 0)
	for i := range dst {
		dst[i] = seq[i] * scale
	}
}
