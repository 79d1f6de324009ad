// Package gpurig inventories the GPU cards and host RAM available on the
// node a worker runs on (spec.md §4.4): nvidia-smi for card memory,
// /proc/meminfo for host RAM, both sampled fresh on every call rather
// than cached, so admission checks always see the latest numbers.
package gpurig

// usingMemoryCoefficient caps how much of a device's total memory the
// scheduler is willing to consider free, leaving headroom for the
// driver and other tenants.
const usingMemoryCoefficient = 0.95

// MemoryInfo is a total/used memory pair in bytes, for either a GPU card
// or host RAM.
type MemoryInfo struct {
	TotalBytes int64
	UsedBytes  int64
}

// PermittedVolume is the byte budget an admission check may hand out:
// 95% of total minus what's already used, floored at zero.
func (m MemoryInfo) PermittedVolume() int64 {
	permitted := int64(float64(m.TotalBytes)*usingMemoryCoefficient) - m.UsedBytes
	if permitted < 0 {
		return 0
	}
	return permitted
}

// FreeVolume is the raw total-minus-used figure, with no safety margin.
func (m MemoryInfo) FreeVolume() int64 {
	return m.TotalBytes - m.UsedBytes
}

// MaxArraySize returns how many elements of elementByteSize fit within
// PermittedVolume.
func (m MemoryInfo) MaxArraySize(elementByteSize int64) int64 {
	if elementByteSize <= 0 {
		return 0
	}
	return m.PermittedVolume() / elementByteSize
}

func megabytesToBytes(value int64) int64 {
	return value * 1024 * 1024
}
