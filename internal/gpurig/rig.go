package gpurig

import (
	"fmt"
	"os"
)

// Card identifies one GPU card by bus id/uuid. It carries no CL handle:
// kernel compilation and execution live behind the gputask.KernelRunner
// boundary (spec.md §4.5) — this package only ever answers "which cards
// exist, and how much memory do they have right now".
type Card struct {
	BusID  int
	UUID   string
	Memory MemoryInfo
}

// IsFree reports whether the card currently has any permitted headroom.
func (c Card) IsFree() bool {
	return c.Memory.PermittedVolume() > 0
}

// ErrBusIDNotFound and ErrNoFreeGPUCard name the two rig-level failure
// modes a run-loop needs to branch on: "rig has no such identity" and
// "rig is fully busy right now" are different retry stories.
type ErrBusIDNotFound struct {
	Detail string
}

func (e *ErrBusIDNotFound) Error() string { return e.Detail }

type ErrNoFreeGPUCard struct{}

func (e *ErrNoFreeGPUCard) Error() string { return "all GPU cards are busy now" }

// Rig is a live snapshot-on-demand view of the node's GPU inventory and
// host RAM. Every method re-queries nvidia-smi/meminfo — there is no
// caching, so two calls made microseconds apart can observe different
// numbers if another task started in between.
type Rig struct{}

// New returns a Rig. Construction never fails: a node with zero GPUs is
// valid, just useless for GPU task types.
func New() *Rig {
	return &Rig{}
}

// Hostname reports the node's hostname.
func (r *Rig) Hostname() (string, error) {
	return os.Hostname()
}

// Cards returns every GPU card nvidia-smi currently reports.
func (r *Rig) Cards() []Card {
	infos := QueryGPUCards()
	cards := make([]Card, 0, len(infos))
	for _, info := range infos {
		cards = append(cards, Card{
			BusID:  info.BusID,
			UUID:   info.UUID,
			Memory: info.Memory,
		})
	}
	return cards
}

// CardsCount is the number of currently visible GPU cards.
func (r *Rig) CardsCount() int {
	return len(r.Cards())
}

// GetCardByBusID looks a card up by PCI bus id.
func (r *Rig) GetCardByBusID(busID int) (Card, error) {
	for _, card := range r.Cards() {
		if card.BusID == busID {
			return card, nil
		}
	}
	return Card{}, &ErrBusIDNotFound{Detail: fmt.Sprintf("bus id %d does not exist", busID)}
}

// GetCardByUUID looks a card up by its nvidia-smi UUID.
func (r *Rig) GetCardByUUID(uuid string) (Card, error) {
	for _, card := range r.Cards() {
		if card.UUID == uuid {
			return card, nil
		}
	}
	return Card{}, &ErrBusIDNotFound{Detail: fmt.Sprintf("uuid %q does not exist", uuid)}
}

// GetFreeGPUCard returns the first card with enough free headroom for
// requiredMemoryBytes, matching the original's first-fit (not best-fit)
// selection.
func (r *Rig) GetFreeGPUCard(requiredMemoryBytes int64) (Card, error) {
	for _, card := range r.Cards() {
		if !card.IsFree() {
			continue
		}
		if card.Memory.FreeVolume() > requiredMemoryBytes {
			return card, nil
		}
	}
	return Card{}, &ErrNoFreeGPUCard{}
}

// IsAvailableRAMMemory reports whether the host has any permitted RAM
// headroom left, per the admission check in spec.md §4.6.
func (r *Rig) IsAvailableRAMMemory() (bool, error) {
	info, err := HostRAMInfo()
	if err != nil {
		return false, err
	}
	return info.PermittedVolume() > 0, nil
}

// RAMMemoryInfo returns the current host RAM snapshot.
func (r *Rig) RAMMemoryInfo() (MemoryInfo, error) {
	return HostRAMInfo()
}
