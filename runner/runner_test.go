package runner

import (
	"fmt"
	"testing"

	"github.com/notargets/FlowKernel/runner/builder"
	"github.com/notargets/gocca"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func createTestDevice(t *testing.T) *gocca.OCCADevice {
	for _, props := range []string{
		`{"mode": "OpenMP"}`,
		`{"mode": "CUDA", "device_id": 0}`,
		`{"mode": "Serial"}`,
	} {
		if device, err := gocca.NewDevice(props); err == nil {
			t.Cleanup(device.Free)
			return device
		}
	}
	t.Skip("no OCCA device available")
	return nil
}

func newTestRunner(t *testing.T, cfg builder.Config) *Runner {
	kr, err := NewRunner(createTestDevice(t), cfg)
	require.NoError(t, err)
	t.Cleanup(kr.Free)
	return kr
}

// each element holds (re, im); re is scaled, im gets the partition index
const scaleKernel = `
@kernel void scale(%s) {
  for (int_t part = 0; part < NPART; ++part; @outer) {
    real_t* U = U_PART(part);
    for (int_t i = 0; i < KpartMax; ++i; @inner) {
      if (i < K[part]) {
        U[2*i] = s*U[2*i];
        U[2*i+1] = U[2*i+1] + part;
      }
    }
  }
}
`

func buildScale(t *testing.T, kr *Runner, params ...*builder.ParamBuilder) {
	require.NoError(t, kr.DefineBindings(params...))
	require.NoError(t, kr.AllocateDevice())
	_, err := kr.ConfigureKernel("scale", kr.Param("U").Copy(), kr.Param("s"))
	require.NoError(t, err)
	sig, err := kr.GetKernelSignatureForConfig("scale")
	require.NoError(t, err)
	_, err = kr.BuildKernel(fmt.Sprintf(scaleKernel, sig), "scale")
	require.NoError(t, err)
}

func TestNewRunner_Errors(t *testing.T) {
	_, err := NewRunner(nil, builder.Config{K: []int{10}})
	assert.Error(t, err)

	device := createTestDevice(t)
	_, err = NewRunner(device, builder.Config{})
	assert.Error(t, err)
	_, err = NewRunner(device, builder.Config{K: []int{MaxKpart + 1}})
	assert.Error(t, err)
}

func TestRunner_PartitionedArray(t *testing.T) {
	K := []int{3, 5, 2}
	for _, align := range []builder.AlignmentType{builder.NoAlignment, builder.CacheLineAlign} {
		t.Run(fmt.Sprintf("Align%d", align), func(t *testing.T) {
			kr := newTestRunner(t, builder.Config{K: K, IntType: builder.INT32})
			U := make([]float64, 2*10)
			for i := range U {
				U[i] = float64(i)
			}
			buildScale(t, kr,
				builder.InOut("U").Bind(U).Align(align),
				builder.Scalar("s").Bind(3.0))

			require.NoError(t, kr.ExecuteKernel("scale"))
			e := 0
			for part, k := range K {
				for i := 0; i < k; i++ {
					assert.Equal(t, 3*float64(2*e), U[2*e], "element %d", e)
					assert.Equal(t, float64(2*e+1+part), U[2*e+1], "element %d", e)
					e++
				}
			}
		})
	}
}

func TestRunner_ConvertToSingle(t *testing.T) {
	kr := newTestRunner(t, builder.Config{K: []int{4, 4}, FloatType: builder.Float32})
	U := make([]float64, 16)
	for i := range U {
		U[i] = 0.5 * float64(i)
	}
	buildScale(t, kr,
		builder.InOut("U").Bind(U).Convert(builder.Float32),
		builder.Scalar("s").Bind(float32(-2)))

	binding := kr.GetBinding("U")
	assert.Equal(t, builder.Float64, binding.HostType)
	assert.Equal(t, builder.Float32, binding.DeviceType)
	assert.Equal(t, 4, binding.ElementSize)

	require.NoError(t, kr.ExecuteKernel("scale"))
	for e := 0; e < 8; e++ {
		assert.InDelta(t, -2*0.5*float64(2*e), U[2*e], 1e-6)
		assert.InDelta(t, 0.5*float64(2*e+1)+float64(e/4), U[2*e+1], 1e-6)
	}
}

func TestRunner_PositionalScalar(t *testing.T) {
	kr := newTestRunner(t, builder.Config{K: []int{2}})
	U := []float64{1, 0, 2, 0}
	buildScale(t, kr,
		builder.InOut("U").Bind(U),
		builder.Scalar("s").Type(builder.Float64))

	require.NoError(t, kr.ExecuteKernel("scale", 5.0))
	assert.Equal(t, []float64{5, 0, 10, 0}, U)

	err := kr.ExecuteKernel("scale")
	assert.ErrorContains(t, err, "scalar s not provided")
}

func TestRunner_DeviceMatrixAndRebind(t *testing.T) {
	kr := newTestRunner(t, builder.Config{K: []int{2, 2}, IntType: builder.INT32})
	w := mat.NewDense(1, 4, []float64{1, 2, 3, 4})
	require.NoError(t, kr.DefineBindings(
		builder.Input("w").Bind(w).ToMatrix(),
		builder.InOut("F").Type(builder.Float64).Size(8),
	))
	require.NoError(t, kr.AllocateDevice())
	_, err := kr.ConfigureKernel("weight", kr.Param("F").Copy(), kr.Param("w"))
	require.NoError(t, err)

	sig, err := kr.GetKernelSignatureForConfig("weight")
	require.NoError(t, err)
	assert.Equal(t, "const int_t* K,\n\tconst real_t* w,\n\treal_t* F_global,\n\tconst int_t* F_offsets", sig)

	_, err = kr.BuildKernel(fmt.Sprintf(`
@kernel void weight(%s) {
  for (int_t part = 0; part < NPART; ++part; @outer) {
    real_t* F = F_PART(part);
    for (int_t i = 0; i < KpartMax; ++i; @inner) {
      if (i < K[part]) {
        const real_t c = w[part*KpartMax + i];
        F[2*i] *= c;
        F[2*i+1] *= c;
      }
    }
  }
}
`, sig), "weight")
	require.NoError(t, err)

	// nothing bound yet
	assert.Error(t, kr.ExecuteKernel("weight"))

	first := []complex128{1 + 1i, 1 + 1i, 1 + 1i, 1 + 1i}
	second := []complex128{2i, 2i, 2i, 2i}
	require.NoError(t, kr.Rebind("F", first))
	require.NoError(t, kr.ExecuteKernel("weight"))
	require.NoError(t, kr.Rebind("F", second))
	require.NoError(t, kr.ExecuteKernel("weight"))
	for i := range first {
		c := float64(i + 1)
		assert.Equal(t, complex(c, c), first[i])
		assert.Equal(t, complex(0, 2*c), second[i])
	}

	assert.Error(t, kr.Rebind("F", make([]complex64, 4)), "type mismatch")
	assert.Error(t, kr.Rebind("F", make([]complex128, 3)), "size mismatch")
	assert.Error(t, kr.Rebind("w", first), "matrices are fixed")
	assert.Error(t, kr.Rebind("G", first), "unknown")
}

func TestRunner_Lifecycle(t *testing.T) {
	kr := newTestRunner(t, builder.Config{K: []int{4}})

	_, err := kr.ConfigureKernel("scale")
	assert.Error(t, err, "configure before allocation")
	assert.Error(t, kr.AllocateDevice(), "allocation without bindings")

	U := make([]float64, 8)
	require.NoError(t, kr.DefineBindings(builder.InOut("U").Bind(U)))
	assert.Error(t, kr.DefineBindings(builder.Input("U").Bind(U)), "duplicate")
	assert.Error(t, kr.DefineBindings(builder.Temp("T").Bind(U)), "temp array with host data")
	require.NoError(t, kr.AllocateDevice())
	assert.Len(t, kr.GetOffsets("U"), 2)
	assert.NotNil(t, kr.GetMemory("U"))
	assert.Nil(t, kr.GetMemory("T"))
}

func TestRunner_UnevenArray(t *testing.T) {
	kr := newTestRunner(t, builder.Config{K: []int{4}})
	require.NoError(t, kr.DefineBindings(builder.Input("V").Bind(make([]float64, 7))))
	assert.ErrorContains(t, kr.AllocateDevice(), "does not divide")
}

func TestRunner_ConfigureErrors(t *testing.T) {
	kr := newTestRunner(t, builder.Config{K: []int{4}})
	require.NoError(t, kr.DefineBindings(builder.InOut("U").Bind(make([]float64, 8))))
	require.NoError(t, kr.AllocateDevice())
	assert.Error(t, kr.AllocateDevice(), "allocated twice")
	assert.Error(t, kr.DefineBindings(builder.Input("V").Bind(make([]float64, 4))))

	_, err := kr.ConfigureKernel("scale", kr.Param("missing"))
	assert.ErrorContains(t, err, "missing")
	assert.Error(t, kr.ExecuteKernel("never"))
	_, err = kr.GetKernelSignatureForConfig("never")
	assert.Error(t, err)

	_, err = kr.ConfigureKernel("unbuilt", kr.Param("U"))
	require.NoError(t, err)
	assert.ErrorContains(t, kr.ExecuteKernel("unbuilt"), "not compiled")
}
