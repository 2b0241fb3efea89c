package diffop

// stencil addresses one spatial block (a single channel of a single batch
// entry) stored in C order, with periodic wrap on every axis.
type stencil struct {
	spatial []int
	strides []int
	size    int
}

func newStencil(spatial []int) *stencil {
	st := &stencil{
		spatial: append([]int(nil), spatial...),
		strides: make([]int, len(spatial)),
		size:    1,
	}
	for d := len(spatial) - 1; d >= 0; d-- {
		st.strides[d] = st.size
		st.size *= spatial[d]
	}
	return st
}

func (st *stencil) coord(p, d int) int {
	return (p / st.strides[d]) % st.spatial[d]
}

// shift returns the index of the point offset by k along axis d
func (st *stencil) shift(p, d, k int) int {
	x := st.coord(p, d)
	n := st.spatial[d]
	xs := ((x+k)%n + n) % n
	return p + (xs-x)*st.strides[d]
}

// diff is the second order central difference along axis d at point p
func (st *stencil) diff(block []float64, p, d int) float64 {
	return 0.5 * (block[st.shift(p, d, 1)] - block[st.shift(p, d, -1)])
}
