package quantity

import (
	"errors"
	"math"
	"testing"

	"github.com/matryer/is"
)

func TestConvertInvolutive(t *testing.T) {
	is := is.New(t)

	x := 1145.14
	y, err := Convert(x, Millimeter, Nanometer)
	is.NoErr(err)

	back, err := Convert(y, Nanometer, Millimeter)
	is.NoErr(err)

	is.True(math.Abs(back-x) < 1e-6)
}

func TestConvertUnitMismatch(t *testing.T) {
	is := is.New(t)

	_, err := Convert(1, Millimeter, Second)
	var mismatch ErrUnitMismatch
	is.True(errors.As(err, &mismatch))
}

func TestConvertTemperatureAffine(t *testing.T) {
	is := is.New(t)

	f, err := Convert(0, Celsius, Fahrenheit)
	is.NoErr(err)
	is.True(math.Abs(f-32) < 1e-9)

	k, err := Convert(0, Celsius, Kelvin)
	is.NoErr(err)
	is.True(math.Abs(k-273.15) < 1e-9)
}

func TestConvertHumidityUnsupported(t *testing.T) {
	is := is.New(t)

	_, err := ConvertHumidity(50, PercentRH, GramsPerCubicMeter, nil)
	var unsupported ErrUnsupported
	is.True(errors.As(err, &unsupported))

	_, err = ConvertHumidity(50, PercentRH, GramsPerCubicMeter, &Ambient{TemperatureK: 293, PressurePa: 101325})
	is.True(errors.As(err, &unsupported))
}

func TestToLogicalTruncatesTowardZero(t *testing.T) {
	is := is.New(t)

	spec := ParameterSpec{
		Step:  PhysicalQuantity{Value: 10, Unit: Micrometer},
		Min:   -1000000,
		Max:   1000000,
	}

	v, err := ToLogical(PhysicalQuantity{Value: 1145.14, Unit: Millimeter}, spec)
	is.NoErr(err)
	is.Equal(v, 114514)

	// a value that would round up (114514.9 steps) must truncate toward zero, not round.
	v2, err := ToLogical(PhysicalQuantity{Value: 1145.149, Unit: Millimeter}, spec)
	is.NoErr(err)
	is.Equal(v2, 114514)
}

func TestToPhysicalRoundTripsWithinStep(t *testing.T) {
	is := is.New(t)

	spec := ParameterSpec{
		Step: PhysicalQuantity{Value: 10, Unit: Micrometer},
		Min:  -1000000,
		Max:  1000000,
	}

	v, err := ToLogical(PhysicalQuantity{Value: 1145.14, Unit: Millimeter}, spec)
	is.NoErr(err)

	phys, err := ToPhysical(v, spec, Millimeter)
	is.NoErr(err)

	stepInMM, err := Convert(spec.Step.Value, spec.Step.Unit, Millimeter)
	is.NoErr(err)
	is.True(math.Abs(phys.Value-1145.14) <= stepInMM)
}

func TestParameterSpecValidate(t *testing.T) {
	is := is.New(t)

	good := ParameterSpec{
		Step: PhysicalQuantity{Value: 10, Unit: Micrometer},
		Value: 0, Default: 0, Min: -10, Max: 10,
	}
	is.NoErr(good.Validate())

	bad := good
	bad.Step.Value = 0
	is.True(bad.Validate() != nil)

	bad2 := good
	bad2.Value = 100
	is.True(bad2.Validate() != nil)
}
