package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Gender parameterizes the engine's biomechanical model. The computation
// only understands these two values.
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
)

// ParseGender validates the declared category.
func ParseGender(value string) (Gender, error) {
	switch Gender(value) {
	case GenderMale, GenderFemale:
		return Gender(value), nil
	default:
		return "", fmt.Errorf("gender must be %q or %q", GenderMale, GenderFemale)
	}
}

// Measurements is the set of body metrics the computation can return. A nil
// field means the engine could not determine that metric; zero is a valid
// physical value and must never stand in for "not detected".
type Measurements struct {
	ShoulderWidth      *float64 `json:"shoulder_width"`
	ChestCircumference *float64 `json:"chest_circumference"`
	WaistCircumference *float64 `json:"waist_circumference"`
	HipCircumference   *float64 `json:"hip_circumference"`
	SleeveLength       *float64 `json:"sleeve_length"`
	UpperArmLength     *float64 `json:"upper_arm_length"`
	NeckCircumference  *float64 `json:"neck_circumference"`
	Inseam             *float64 `json:"inseam"`
	TorsoLength        *float64 `json:"torso_length"`
	BicepCircumference *float64 `json:"bicep_circumference"`
	WristCircumference *float64 `json:"wrist_circumference"`
	ThighCircumference *float64 `json:"thigh_circumference"`
}

// Result is a successful computation outcome. Metadata and Confidence carry
// the engine's diagnostics verbatim.
type Result struct {
	Measurements Measurements
	Metadata     json.RawMessage
	Confidence   json.RawMessage
}

// Invoker runs the external measurement computation against a staged image
// pair. Implementations bound the run with their own deadline; a caller
// disconnect does not interrupt a run already started.
type Invoker interface {
	Compute(ctx context.Context, frontPath, sidePath string, height float64, gender Gender) (*Result, error)
}

type payload struct {
	Success      bool            `json:"success"`
	Error        string          `json:"error"`
	Measurements *Measurements   `json:"measurements"`
	Metadata     json.RawMessage `json:"metadata"`
	Confidence   json.RawMessage `json:"confidence"`
}

// parseOutput decodes the engine's stdout. Anything that is not a
// well-formed success payload is a failure.
func parseOutput(out []byte) (*Result, error) {
	var p payload
	if err := json.Unmarshal(out, &p); err != nil {
		return nil, fmt.Errorf("malformed engine output: %w", err)
	}
	if !p.Success {
		if p.Error != "" {
			return nil, errors.New(p.Error)
		}
		return nil, errors.New("measurement processing failed")
	}
	if p.Measurements == nil {
		return nil, errors.New("engine success payload is missing measurements")
	}
	return &Result{
		Measurements: *p.Measurements,
		Metadata:     p.Metadata,
		Confidence:   p.Confidence,
	}, nil
}
