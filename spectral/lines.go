package spectral

// ForEachLine calls fn(start, stride) once for every 1-D line running along
// axis of a C-ordered array of the given shape.
func ForEachLine(shape []int, axis int, fn func(start, stride int)) {
	stride := 1
	for d := axis + 1; d < len(shape); d++ {
		stride *= shape[d]
	}
	outer := 1
	for d := 0; d < axis; d++ {
		outer *= shape[d]
	}
	span := shape[axis] * stride
	for o := 0; o < outer; o++ {
		for in := 0; in < stride; in++ {
			fn(o*span+in, stride)
		}
	}
}
