package gpurig

import (
	"os"
	"path/filepath"
	"testing"
)

func TestHostRAMInfoParsesMemInfo(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "meminfo")
	content := "MemTotal:       16384000 kB\nMemFree:         4096000 kB\nMemAvailable:    8000000 kB\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	original := memInfoPath
	memInfoPath = path
	defer func() { memInfoPath = original }()

	info, err := HostRAMInfo()
	if err != nil {
		t.Fatalf("HostRAMInfo() error = %v", err)
	}

	wantTotal := int64(16384000) * memInfoUnitInBytes
	wantUsed := wantTotal - int64(4096000)*memInfoUnitInBytes
	if info.TotalBytes != wantTotal {
		t.Fatalf("TotalBytes = %d, want %d", info.TotalBytes, wantTotal)
	}
	if info.UsedBytes != wantUsed {
		t.Fatalf("UsedBytes = %d, want %d", info.UsedBytes, wantUsed)
	}
}

func TestHostRAMInfoMissingFile(t *testing.T) {
	original := memInfoPath
	memInfoPath = filepath.Join(t.TempDir(), "does-not-exist")
	defer func() { memInfoPath = original }()

	if _, err := HostRAMInfo(); err == nil {
		t.Fatalf("expected an error for a missing meminfo file")
	}
}
