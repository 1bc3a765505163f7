package quantity

import "fmt"

// PhysicalQuantity is a human-friendly value tagged with its Unit.
type PhysicalQuantity struct {
	Value float64 `json:"value"`
	Unit  Unit    `json:"unit"`
}

// ParameterSpec is the authoritative record for one device parameter: an
// integer logical value plus the step size that maps it to a physical
// quantity, and the soft limits that bound it.
type ParameterSpec struct {
	Step    PhysicalQuantity `json:"step"`
	Value   int              `json:"value"`
	Default int              `json:"default"`
	Min     int              `json:"min"`
	Max     int              `json:"max"`
}

// Validate checks the invariants spec.md §3 requires of a ParameterSpec.
func (p ParameterSpec) Validate() error {
	if p.Step.Value <= 0 {
		return fmt.Errorf("parameter step must be positive, got %v", p.Step.Value)
	}
	if p.Min > p.Max {
		return fmt.Errorf("parameter min %d exceeds max %d", p.Min, p.Max)
	}
	if p.Value < p.Min || p.Value > p.Max {
		return fmt.Errorf("parameter value %d outside limits [%d, %d]", p.Value, p.Min, p.Max)
	}
	if p.Default < p.Min || p.Default > p.Max {
		return fmt.Errorf("parameter default %d outside limits [%d, %d]", p.Default, p.Min, p.Max)
	}
	return nil
}

// InRange reports whether v satisfies the ParameterSpec's soft limits.
func (p ParameterSpec) InRange(v int) bool {
	return v >= p.Min && v <= p.Max
}

// ToLogical converts a physical quantity into the logical value for spec,
// truncating toward zero after converting into the step's unit and dividing
// by the step's magnitude. This truncation is deliberate: the device only
// operates at logical resolution (spec.md §4.1, §4.3 Rounding).
func ToLogical(physical PhysicalQuantity, spec ParameterSpec) (int, error) {
	inStepUnit, err := Convert(physical.Value, physical.Unit, spec.Step.Unit)
	if err != nil {
		return 0, err
	}
	return int(inStepUnit / spec.Step.Value), nil
}

// ToPhysical converts a logical value into a physical quantity expressed in
// targetUnit.
func ToPhysical(v int, spec ParameterSpec, targetUnit Unit) (PhysicalQuantity, error) {
	inStepUnit := float64(v) * spec.Step.Value
	converted, err := Convert(inStepUnit, spec.Step.Unit, targetUnit)
	if err != nil {
		return PhysicalQuantity{}, err
	}
	return PhysicalQuantity{Value: converted, Unit: targetUnit}, nil
}
