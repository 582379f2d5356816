package indexer

import (
	"runtime"

	"github.com/canopy-network/blockstore/pkg/utils"
)

// Config tunes concurrent ingest.
type Config struct {
	// MaxParallelism bounds concurrent block ingests. Each holds one PostgreSQL connection for
	// the length of its transaction, so keep it at or below the pool's max connections.
	MaxParallelism int
	// AttributeLeaders asks the leader schedule for blocks that arrive without a leader.
	AttributeLeaders bool
	// Prefix namespaces the notification channel; normally the schema prefix.
	Prefix string
}

// ConfigFromEnv reads INDEXER_MAX_PARALLELISM and INDEXER_ATTRIBUTE_LEADERS.
func ConfigFromEnv(prefix string) Config {
	return Config{
		MaxParallelism:   Parallelism(utils.EnvInt("INDEXER_MAX_PARALLELISM", 0)),
		AttributeLeaders: utils.EnvBool("INDEXER_ATTRIBUTE_LEADERS", true),
		Prefix:           prefix,
	}
}

// Parallelism returns override when set, otherwise two workers per CPU, capped at 32.
func Parallelism(override int) int {
	if override > 0 {
		if override > 256 {
			return 256
		}
		return override
	}

	n := runtime.NumCPU()
	if n < 1 {
		n = 1
	}
	parallelism := n * 2
	if parallelism > 32 {
		parallelism = 32
	}
	return parallelism
}

// QueueSize sizes the pool queue so a batch of blocks can be enqueued without blocking.
func QueueSize(parallelism, batchSize int) int {
	if parallelism < 1 {
		parallelism = 1
	}
	if batchSize < 1 {
		batchSize = 1
	}

	queue := parallelism * batchSize
	if queue < 256 {
		queue = 256
	}
	if queue > 65536 {
		queue = 65536
	}
	return queue
}
