package indexer

import (
	"strconv"
	"time"

	"github.com/canopy-network/blockstore/pkg/utils"
)

// ScanConfig tunes the head scan loop.
type ScanConfig struct {
	// PollInterval is the wait between scans once the indexer has caught up with the node.
	PollInterval time.Duration
	// BatchSlots bounds the slot range of one scan.
	BatchSlots uint64
	// FetchParallelism bounds concurrent getBlock calls.
	FetchParallelism int
	// StartSlot is where a fresh deployment begins. Nil starts at the node's finalized slot.
	StartSlot *uint64
	// ResumeEpochs is how many epochs back, from the finalized one, are searched for stored progress.
	ResumeEpochs int
}

// ScanConfigFromEnv reads INDEXER_POLL_INTERVAL, INDEXER_BATCH_SLOTS, INDEXER_FETCH_PARALLELISM,
// INDEXER_START_SLOT and INDEXER_RESUME_EPOCHS.
func ScanConfigFromEnv() ScanConfig {
	cfg := ScanConfig{
		PollInterval:     utils.EnvDuration("INDEXER_POLL_INTERVAL", 2*time.Second),
		BatchSlots:       uint64(utils.EnvInt("INDEXER_BATCH_SLOTS", 64)),
		FetchParallelism: utils.EnvInt("INDEXER_FETCH_PARALLELISM", 8),
		ResumeEpochs:     utils.EnvInt("INDEXER_RESUME_EPOCHS", 2),
	}
	if v := utils.Env("INDEXER_START_SLOT", ""); v != "" {
		if slot, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.StartSlot = &slot
		}
	}
	return cfg
}

func (c ScanConfig) withDefaults() ScanConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.BatchSlots == 0 {
		c.BatchSlots = 64
	}
	if c.FetchParallelism <= 0 {
		c.FetchParallelism = 8
	}
	if c.ResumeEpochs <= 0 {
		c.ResumeEpochs = 1
	}
	return c
}
