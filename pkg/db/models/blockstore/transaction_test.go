package blockstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValuesFollowColumnOrder(t *testing.T) {
	errBlob := "e30="
	requested, fees, consumed := int64(1), int64(2), int64(3)
	tx := &Transaction{
		Signature:          "sig",
		Slot:               100,
		Err:                &errBlob,
		CURequested:        &requested,
		PrioritizationFees: &fees,
		CUConsumed:         &consumed,
		RecentBlockhash:    "hash",
		Message:            "msg",
	}

	values := tx.Values()
	require.Len(t, values, len(TransactionColumns))

	byColumn := make(map[string]any, len(values))
	for i, c := range TransactionColumns {
		byColumn[c] = values[i]
	}
	assert.Equal(t, "sig", byColumn["signature"])
	assert.Equal(t, int64(100), byColumn["slot"])
	assert.Equal(t, &errBlob, byColumn["err"])
	assert.Equal(t, &requested, byColumn["cu_requested"])
	assert.Equal(t, &fees, byColumn["prioritization_fees"])
	assert.Equal(t, &consumed, byColumn["cu_consumed"])
	assert.Equal(t, "hash", byColumn["recent_blockhash"])
	assert.Equal(t, "msg", byColumn["message"])
}
