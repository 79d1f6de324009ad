package gpurig

import (
	"bufio"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/MikkoArtik/gstream/internal/apperrors"
)

const (
	totalMemoryKey     = "MemTotal"
	freeMemoryKey      = "MemFree"
	memInfoUnitInBytes = 1024
)

// memInfoPath is the meminfo file HostRAMInfo reads. Overridden by tests.
var memInfoPath = "/proc/meminfo"

// HostRAMInfo reads /proc/meminfo and returns total/used host memory in
// bytes. MemTotal/MemFree in that file are reported in KiB.
func HostRAMInfo() (MemoryInfo, error) {
	file, err := os.Open(memInfoPath)
	if err != nil {
		return MemoryInfo{}, apperrors.New(apperrors.KindPrecondition, "meminfo file not found")
	}
	defer file.Close()

	var totalKB, freeKB int64
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, totalMemoryKey) {
			totalKB = extractDigits(line)
		}
		if strings.Contains(line, freeMemoryKey) {
			freeKB = extractDigits(line)
		}
		if totalKB != 0 && freeKB != 0 {
			break
		}
	}

	totalBytes := totalKB * memInfoUnitInBytes
	freeBytes := freeKB * memInfoUnitInBytes
	return MemoryInfo{
		TotalBytes: totalBytes,
		UsedBytes:  totalBytes - freeBytes,
	}, nil
}

// CPUCoresCount returns the number of logical CPUs visible to the
// process, the Go analogue of os.cpu_count().
func CPUCoresCount() int {
	return runtime.NumCPU()
}

func extractDigits(line string) int64 {
	var b strings.Builder
	for _, r := range line {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	v, err := strconv.ParseInt(b.String(), 10, 64)
	if err != nil {
		return 0
	}
	return v
}
