package gpurig

import "testing"

func TestParseGPULineAppliesConservativeBias(t *testing.T) {
	line := "GPU-abc123, 00000000:17:00.0, 500, 7500, 8000"
	card, ok := parseGPULine(line)
	if !ok {
		t.Fatalf("expected a parsed card")
	}
	if card.UUID != "GPU-abc123" {
		t.Fatalf("UUID = %q, want GPU-abc123", card.UUID)
	}
	if card.BusID != 17 {
		t.Fatalf("BusID = %d, want 17", card.BusID)
	}
	wantUsed := megabytesToBytes(501)
	wantTotal := megabytesToBytes(7999)
	if card.Memory.UsedBytes != wantUsed {
		t.Fatalf("UsedBytes = %d, want %d", card.Memory.UsedBytes, wantUsed)
	}
	if card.Memory.TotalBytes != wantTotal {
		t.Fatalf("TotalBytes = %d, want %d", card.Memory.TotalBytes, wantTotal)
	}
}

func TestParseGPULineCapsTotalAtZero(t *testing.T) {
	line := "GPU-abc123, 00000000:17:00.0, 0, 0, 0"
	card, ok := parseGPULine(line)
	if !ok {
		t.Fatalf("expected a parsed card")
	}
	if card.Memory.TotalBytes != 0 {
		t.Fatalf("TotalBytes = %d, want 0", card.Memory.TotalBytes)
	}
}

func TestParseGPULineRejectsShortRow(t *testing.T) {
	if _, ok := parseGPULine("GPU-abc123, 00000000:17:00.0"); ok {
		t.Fatalf("expected short row to be rejected")
	}
}

func TestParseGPULineRejectsNonNumericMemory(t *testing.T) {
	line := "GPU-abc123, 00000000:17:00.0, x, y, z"
	if _, ok := parseGPULine(line); ok {
		t.Fatalf("expected non-numeric memory fields to be rejected")
	}
}

func TestParseBusIDRejectsMalformed(t *testing.T) {
	if _, ok := parseBusID("nocolon"); ok {
		t.Fatalf("expected malformed bus id to be rejected")
	}
}
