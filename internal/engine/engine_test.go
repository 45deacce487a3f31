package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestParseOutputSuccess(t *testing.T) {
	out := []byte(`{
		"success": true,
		"measurements": {
			"shoulder_width": 40.2,
			"chest_circumference": 0,
			"inseam": 78.5
		},
		"metadata": {"body_height_pixels": 1024.5},
		"confidence": {"front_detection": true, "side_detection": true}
	}`)

	result, err := parseOutput(out)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if result.Measurements.ShoulderWidth == nil || *result.Measurements.ShoulderWidth != 40.2 {
		t.Fatalf("unexpected shoulder width: %v", result.Measurements.ShoulderWidth)
	}
	if result.Measurements.ChestCircumference == nil || *result.Measurements.ChestCircumference != 0 {
		t.Fatal("explicit zero must survive the decode, it is a reported value")
	}
	if result.Measurements.WaistCircumference != nil {
		t.Fatal("absent metric must decode to nil, not zero")
	}
	if len(result.Metadata) == 0 || len(result.Confidence) == 0 {
		t.Fatal("metadata and confidence must be carried through verbatim")
	}
}

func TestParseOutputFailurePayload(t *testing.T) {
	_, err := parseOutput([]byte(`{"success": false, "error": "No person detected in front image"}`))
	if err == nil || err.Error() != "No person detected in front image" {
		t.Fatalf("expected engine error message, got %v", err)
	}
}

func TestParseOutputMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":             `mediapipe stack trace`,
		"empty":                ``,
		"missing measurements": `{"success": true}`,
	}
	for name, out := range cases {
		if _, err := parseOutput([]byte(out)); err == nil {
			t.Errorf("%s: expected parse failure", name)
		}
	}
}

func TestParseGender(t *testing.T) {
	if _, err := ParseGender("female"); err != nil {
		t.Fatalf("female must parse: %v", err)
	}
	if _, err := ParseGender("other"); err == nil {
		t.Fatal("expected error for unknown gender")
	}
}

func writeFakeEngine(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engine.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("failed to write fake engine: %v", err)
	}
	return path
}

func TestSubprocessComputeSuccess(t *testing.T) {
	script := writeFakeEngine(t, `echo '{"success":true,"measurements":{"shoulder_width":40.2}}'`)
	inv := NewSubprocess("/bin/sh", script, time.Second, zap.NewNop())

	result, err := inv.Compute(context.Background(), "front.jpg", "side.jpg", 175, GenderFemale)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if result.Measurements.ShoulderWidth == nil || *result.Measurements.ShoulderWidth != 40.2 {
		t.Fatalf("unexpected result: %+v", result.Measurements)
	}
}

func TestSubprocessComputeStderrDoesNotFail(t *testing.T) {
	script := writeFakeEngine(t, `echo 'WARNING: model downloaded' >&2
echo '{"success":true,"measurements":{}}'`)
	inv := NewSubprocess("/bin/sh", script, time.Second, zap.NewNop())

	if _, err := inv.Compute(context.Background(), "f", "s", 170, GenderMale); err != nil {
		t.Fatalf("stderr output alone must not fail the run: %v", err)
	}
}

func TestSubprocessComputeEngineFailure(t *testing.T) {
	script := writeFakeEngine(t, `echo '{"success":false,"error":"Could not detect body landmarks"}'
exit 1`)
	inv := NewSubprocess("/bin/sh", script, time.Second, zap.NewNop())

	_, err := inv.Compute(context.Background(), "f", "s", 170, GenderMale)
	if err == nil {
		t.Fatal("expected failure")
	}
}

func TestSubprocessComputeTimeout(t *testing.T) {
	script := writeFakeEngine(t, `sleep 5`)
	inv := NewSubprocess("/bin/sh", script, 100*time.Millisecond, zap.NewNop())

	start := time.Now()
	_, err := inv.Compute(context.Background(), "f", "s", 170, GenderMale)
	if err == nil {
		t.Fatal("expected timeout failure")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("timeout took too long: %s", elapsed)
	}
}

func TestSubprocessComputeUnstartableCommand(t *testing.T) {
	inv := NewSubprocess("/nonexistent/engine", "script.py", time.Second, zap.NewNop())

	if _, err := inv.Compute(context.Background(), "f", "s", 170, GenderMale); err == nil {
		t.Fatal("expected failure when the engine cannot start")
	}
}

func TestSubprocessComputeSurvivesCallerCancel(t *testing.T) {
	script := writeFakeEngine(t, `echo '{"success":true,"measurements":{"inseam":78.5}}'`)
	inv := NewSubprocess("/bin/sh", script, time.Second, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := inv.Compute(ctx, "f", "s", 170, GenderMale)
	if err != nil {
		t.Fatalf("run must not be interrupted by a gone caller: %v", err)
	}
	if result.Measurements.Inseam == nil {
		t.Fatal("expected result despite cancelled caller context")
	}
}
