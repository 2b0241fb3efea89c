package occa

import (
	"fmt"
)

const (
	forwardKernelName = "fluidOperatorForward"
	inverseKernelName = "fluidOperatorInverse"
)

// operatorKernel returns the kernel applying the symbol, or its inverse, to
// an interleaved (re, im) spectrum. Each partition is one batch entry of
// layout (2, N0, H1) and each of its K elements is a row i of the first axis.
// The preamble supplies N0, H1, the partition macros and the int_t and
// real_t types; signature is the runner generated parameter list.
func operatorKernel(name, signature string, inverse bool) string {
	invert := ""
	if inverse {
		invert = `
          const real_t det = a00*a11 - a01*a01;
          const real_t b00 = a11/det;
          a01 = -a01/det;
          a11 = a00/det;
          a00 = b00;`
	}
	return fmt.Sprintf(`
@kernel void %s(%s) {
  for (int_t part = 0; part < NPART; ++part; @outer) {
    real_t* F = F_PART(part);
    for (int_t i = 0; i < KpartMax; ++i; @inner) {
      if (i < K[part]) {
        const real_t c0 = cos0[i];
        const real_t s0 = sin0[i];
        for (int_t j = 0; j < H1; ++j) {
          const real_t c1 = cos1[j];
          const real_t diag = alpha*(c0 + c1) + gamma;
          real_t a00 = diag + beta*c0;
          real_t a01 = beta*s0*sin1[j];
          real_t a11 = diag + beta*c1;%s
          const int_t k0 = 2*(i*H1 + j);
          const int_t k1 = k0 + 2*N0*H1;
          const real_t re0 = F[k0], im0 = F[k0+1];
          const real_t re1 = F[k1], im1 = F[k1+1];
          F[k0]   = a00*re0 + a01*re1;
          F[k0+1] = a00*im0 + a01*im1;
          F[k1]   = a01*re0 + a11*re1;
          F[k1+1] = a01*im0 + a11*im1;
        }
      }
    }
  }
}
`, name, signature, invert)
}
