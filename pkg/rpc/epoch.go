package rpc

import (
	"fmt"
	"math/bits"
)

// MinimumSlotsPerEpoch is the length of epoch 0 when the schedule warms up.
const MinimumSlotsPerEpoch uint64 = 32

// EpochRef identifies one epoch. Partition naming and slot attribution both key on it.
type EpochRef uint64

func (e EpochRef) Uint64() uint64 { return uint64(e) }

func (e EpochRef) String() string { return fmt.Sprintf("%d", uint64(e)) }

// EpochInfo is the node's view of where the ledger currently is.
type EpochInfo struct {
	Epoch        EpochRef
	AbsoluteSlot uint64
	SlotIndex    uint64
	SlotsInEpoch uint64
}

// EpochSchedule maps slots to epochs the same way the ledger does, warmup included.
type EpochSchedule struct {
	SlotsPerEpoch            uint64 `json:"slots_per_epoch"`
	LeaderScheduleSlotOffset uint64 `json:"leader_schedule_slot_offset"`
	Warmup                   bool   `json:"warmup"`
	FirstNormalEpoch         uint64 `json:"first_normal_epoch"`
	FirstNormalSlot          uint64 `json:"first_normal_slot"`
}

// NewEpochSchedule derives the first normal epoch and slot the same way genesis does.
func NewEpochSchedule(slotsPerEpoch, leaderScheduleSlotOffset uint64, warmup bool) (EpochSchedule, error) {
	if slotsPerEpoch < MinimumSlotsPerEpoch {
		return EpochSchedule{}, fmt.Errorf("slots per epoch %d below minimum %d", slotsPerEpoch, MinimumSlotsPerEpoch)
	}

	s := EpochSchedule{
		SlotsPerEpoch:            slotsPerEpoch,
		LeaderScheduleSlotOffset: leaderScheduleSlotOffset,
		Warmup:                   warmup,
	}
	if warmup {
		s.FirstNormalEpoch = uint64(log2Ceil(slotsPerEpoch) - log2Ceil(MinimumSlotsPerEpoch))
		s.FirstNormalSlot = ((uint64(1) << s.FirstNormalEpoch) - 1) * MinimumSlotsPerEpoch
	}
	return s, nil
}

// EpochOf returns the epoch containing slot.
func (s EpochSchedule) EpochOf(slot uint64) EpochRef {
	if s.Warmup && slot < s.FirstNormalSlot {
		// Epoch n spans MinimumSlotsPerEpoch * 2^n slots starting at (2^n - 1) * MinimumSlotsPerEpoch.
		epoch := bits.Len64(slot+MinimumSlotsPerEpoch) - log2Ceil(MinimumSlotsPerEpoch) - 1
		return EpochRef(epoch)
	}
	return EpochRef(s.FirstNormalEpoch + (slot-s.FirstNormalSlot)/s.SlotsPerEpoch)
}

// SlotsInEpoch returns the length of epoch in slots.
func (s EpochSchedule) SlotsInEpoch(epoch EpochRef) uint64 {
	if s.Warmup && uint64(epoch) < s.FirstNormalEpoch {
		return MinimumSlotsPerEpoch << uint64(epoch)
	}
	return s.SlotsPerEpoch
}

// FirstSlot returns the first slot of epoch.
func (s EpochSchedule) FirstSlot(epoch EpochRef) uint64 {
	e := uint64(epoch)
	if s.Warmup && e <= s.FirstNormalEpoch {
		return ((uint64(1) << e) - 1) * MinimumSlotsPerEpoch
	}
	return (e-s.FirstNormalEpoch)*s.SlotsPerEpoch + s.FirstNormalSlot
}

// LastSlot returns the last slot of epoch, inclusive.
func (s EpochSchedule) LastSlot(epoch EpochRef) uint64 {
	return s.FirstSlot(epoch) + s.SlotsInEpoch(epoch) - 1
}

// log2Ceil returns the exponent of the smallest power of two >= n.
func log2Ceil(n uint64) int {
	if n <= 1 {
		return 0
	}
	return bits.Len64(n - 1)
}
