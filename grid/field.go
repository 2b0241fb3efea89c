package grid

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Field is a dense grid-sampled array of shape (N, C, spatial...).
//
// Velocity fields and momentum fields share this representation; which one a
// Field holds is a matter of how it is used. Storage is float32 for Single
// precision and float64 for Double. Strides are in elements and allow
// non-contiguous views produced by Permute.
type Field struct {
	shape     []int
	strides   []int
	precision Precision
	contig    bool
	f32       []float32
	f64       []float64
}

// New allocates a zero-valued contiguous field
func New(shape []int, precision Precision) (f *Field, err error) {
	if !precision.Valid() {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedPrecision, precision)
	}
	if len(shape) < 3 {
		return nil, fmt.Errorf("%w: shape %v needs (N, C, spatial...)", ErrShapeMismatch, shape)
	}
	n := 1
	for _, s := range shape {
		if s <= 0 {
			return nil, fmt.Errorf("%w: non-positive extent in %v", ErrShapeMismatch, shape)
		}
		n *= s
	}
	f = &Field{
		shape:     append([]int(nil), shape...),
		strides:   contiguousStrides(shape),
		precision: precision,
		contig:    true,
	}
	if precision == Single {
		f.f32 = make([]float32, n)
	} else {
		f.f64 = make([]float64, n)
	}
	return
}

// MustNew is New for shapes known to be valid; it panics on error
func MustNew(shape []int, precision Precision) *Field {
	f, err := New(shape, precision)
	if err != nil {
		panic(err)
	}
	return f
}

// FromFloat64s wraps data (not copied) as a double precision field
func FromFloat64s(shape []int, data []float64) (*Field, error) {
	if total(shape) != len(data) {
		return nil, fmt.Errorf("%w: shape %v holds %d values, got %d",
			ErrShapeMismatch, shape, total(shape), len(data))
	}
	if len(shape) < 3 {
		return nil, fmt.Errorf("%w: shape %v needs (N, C, spatial...)", ErrShapeMismatch, shape)
	}
	return &Field{
		shape:     append([]int(nil), shape...),
		strides:   contiguousStrides(shape),
		precision: Double,
		contig:    true,
		f64:       data,
	}, nil
}

// FromFloat32s wraps data (not copied) as a single precision field
func FromFloat32s(shape []int, data []float32) (*Field, error) {
	if total(shape) != len(data) {
		return nil, fmt.Errorf("%w: shape %v holds %d values, got %d",
			ErrShapeMismatch, shape, total(shape), len(data))
	}
	if len(shape) < 3 {
		return nil, fmt.Errorf("%w: shape %v needs (N, C, spatial...)", ErrShapeMismatch, shape)
	}
	return &Field{
		shape:     append([]int(nil), shape...),
		strides:   contiguousStrides(shape),
		precision: Single,
		contig:    true,
		f32:       data,
	}, nil
}

// NewLike allocates a zero-valued contiguous field with the shape and precision of f
func NewLike(f *Field) *Field {
	return MustNew(f.shape, f.precision)
}

func (f *Field) Shape() []int { return append([]int(nil), f.shape...) }
func (f *Field) Precision() Precision { return f.precision }
func (f *Field) Batch() int { return f.shape[0] }
func (f *Field) Channels() int { return f.shape[1] }
func (f *Field) Spatial() []int { return append([]int(nil), f.shape[2:]...) }
func (f *Field) Dim() int { return len(f.shape) - 2 }
func (f *Field) Len() int { return total(f.shape) }
func (f *Field) SpatialLen() int { return total(f.shape[2:]) }
func (f *Field) SameShape(g *Field) bool { return equalInts(f.shape, g.shape) }

// Float64Data returns the backing storage of a double precision field, nil otherwise.
// The layout follows Strides.
func (f *Field) Float64Data() []float64 { return f.f64 }

// Float32Data returns the backing storage of a single precision field, nil otherwise.
func (f *Field) Float32Data() []float32 { return f.f32 }

// IsContiguous reports whether the storage is laid out in C order without gaps
func (f *Field) IsContiguous() bool {
	return f.contig
}

// Index returns the logical C-order flat index of element (n, c, pos...)
func (f *Field) Index(n, c int, pos ...int) int {
	idx := n*f.shape[1] + c
	for d, p := range pos {
		idx = idx*f.shape[2+d] + p
	}
	return idx
}

// At returns the element at logical C-order flat index i
func (f *Field) At(i int) float64 {
	o := f.storageOffset(i)
	if f.precision == Single {
		return float64(f.f32[o])
	}
	return f.f64[o]
}

// Set writes the element at logical C-order flat index i
func (f *Field) Set(i int, v float64) {
	o := f.storageOffset(i)
	if f.precision == Single {
		f.f32[o] = float32(v)
		return
	}
	f.f64[o] = v
}

func (f *Field) storageOffset(i int) int {
	if f.IsContiguous() {
		return i
	}
	off := 0
	for d := len(f.shape) - 1; d >= 0; d-- {
		off += (i % f.shape[d]) * f.strides[d]
		i /= f.shape[d]
	}
	return off
}

// Permute returns a view sharing storage with f whose axes are reordered.
// The result is generally not contiguous.
func (f *Field) Permute(axes ...int) (*Field, error) {
	if len(axes) != len(f.shape) {
		return nil, fmt.Errorf("%w: permutation %v for rank %d", ErrShapeMismatch, axes, len(f.shape))
	}
	seen := make([]bool, len(axes))
	view := &Field{
		shape:     make([]int, len(axes)),
		strides:   make([]int, len(axes)),
		precision: f.precision,
		f32:       f.f32,
		f64:       f.f64,
	}
	for i, a := range axes {
		if a < 0 || a >= len(axes) || seen[a] {
			return nil, fmt.Errorf("%w: invalid permutation %v", ErrShapeMismatch, axes)
		}
		seen[a] = true
		view.shape[i] = f.shape[a]
		view.strides[i] = f.strides[a]
	}
	view.contig = equalInts(view.strides, contiguousStrides(view.shape))
	return view, nil
}

// Clone returns a contiguous deep copy of f
func (f *Field) Clone() *Field {
	out := NewLike(f)
	if f.IsContiguous() {
		copy(out.f32, f.f32)
		copy(out.f64, f.f64)
		return out
	}
	for i := 0; i < out.Len(); i++ {
		out.Set(i, f.At(i))
	}
	return out
}

// Contiguous returns f itself when already contiguous, otherwise a contiguous copy
func (f *Field) Contiguous() *Field {
	if f.IsContiguous() {
		return f
	}
	return f.Clone()
}

// Float64s returns a contiguous float64 copy of the values of f
func (f *Field) Float64s() []float64 {
	out := make([]float64, f.Len())
	if f.precision == Double && f.IsContiguous() {
		copy(out, f.f64)
		return out
	}
	for i := range out {
		out[i] = f.At(i)
	}
	return out
}

// CheckCompatible returns an error unless g has the shape and precision of f
func (f *Field) CheckCompatible(g *Field) error {
	if !f.SameShape(g) {
		return fmt.Errorf("%w: %v vs %v", ErrShapeMismatch, f.shape, g.shape)
	}
	if f.precision != g.precision {
		return fmt.Errorf("%w: %v vs %v", ErrPrecisionMismatch, f.precision, g.precision)
	}
	return nil
}

func (f *Field) fastDouble(others ...*Field) bool {
	if f.precision != Double || !f.IsContiguous() {
		return false
	}
	for _, g := range others {
		if !g.IsContiguous() {
			return false
		}
	}
	return true
}

// Add returns f + g
func (f *Field) Add(g *Field) (*Field, error) {
	return f.AddScaled(1, g)
}

// Sub returns f - g
func (f *Field) Sub(g *Field) (*Field, error) {
	return f.AddScaled(-1, g)
}

// AddScaled returns f + alpha*g
func (f *Field) AddScaled(alpha float64, g *Field) (*Field, error) {
	if err := f.CheckCompatible(g); err != nil {
		return nil, err
	}
	out := NewLike(f)
	if f.fastDouble(g) {
		floats.AddScaledTo(out.f64, f.f64, alpha, g.f64)
		return out, nil
	}
	for i := 0; i < out.Len(); i++ {
		out.Set(i, f.At(i)+alpha*g.At(i))
	}
	return out, nil
}

// Scale returns alpha*f
func (f *Field) Scale(alpha float64) *Field {
	out := NewLike(f)
	if f.fastDouble() {
		floats.ScaleTo(out.f64, alpha, f.f64)
		return out
	}
	for i := 0; i < out.Len(); i++ {
		out.Set(i, alpha*f.At(i))
	}
	return out
}

// Neg returns -f
func (f *Field) Neg() *Field {
	return f.Scale(-1)
}

// AddInPlace accumulates alpha*g into f
func (f *Field) AddInPlace(alpha float64, g *Field) error {
	if err := f.CheckCompatible(g); err != nil {
		return err
	}
	if f.fastDouble(g) {
		floats.AddScaled(f.f64, alpha, g.f64)
		return nil
	}
	for i := 0; i < f.Len(); i++ {
		f.Set(i, f.At(i)+alpha*g.At(i))
	}
	return nil
}

// ScaleInPlace multiplies every element of f by alpha
func (f *Field) ScaleInPlace(alpha float64) {
	if f.fastDouble() {
		floats.Scale(alpha, f.f64)
		return
	}
	for i := 0; i < f.Len(); i++ {
		f.Set(i, alpha*f.At(i))
	}
}

// Dot is the discrete pairing of two fields: the sum over the grid of
// pointwise dot products, accumulated in float64.
func (f *Field) Dot(g *Field) (float64, error) {
	if !f.SameShape(g) {
		return 0, fmt.Errorf("%w: %v vs %v", ErrShapeMismatch, f.shape, g.shape)
	}
	if f.fastDouble(g) && g.precision == Double {
		return floats.Dot(f.f64, g.f64), nil
	}
	var sum float64
	for i := 0; i < f.Len(); i++ {
		sum += f.At(i) * g.At(i)
	}
	return sum, nil
}

// Norm returns the Euclidean norm of all values of f
func (f *Field) Norm() float64 {
	if f.fastDouble() {
		return floats.Norm(f.f64, 2)
	}
	return floats.Norm(f.Float64s(), 2)
}

// MaxAbs returns the largest absolute value in f
func (f *Field) MaxAbs() float64 {
	var m float64
	for i := 0; i < f.Len(); i++ {
		m = math.Max(m, math.Abs(f.At(i)))
	}
	return m
}

// MaxAbsDiff returns the largest absolute elementwise difference between f and g
func (f *Field) MaxAbsDiff(g *Field) (float64, error) {
	if !f.SameShape(g) {
		return 0, fmt.Errorf("%w: %v vs %v", ErrShapeMismatch, f.shape, g.shape)
	}
	return floats.Distance(f.Float64s(), g.Float64s(), math.Inf(1)), nil
}

func contiguousStrides(shape []int) []int {
	strides := make([]int, len(shape))
	s := 1
	for d := len(shape) - 1; d >= 0; d-- {
		strides[d] = s
		s *= shape[d]
	}
	return strides
}

func total(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
