package transform

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/canopy-network/blockstore/pkg/db/models/blockstore"
	"github.com/canopy-network/blockstore/pkg/encoding"
	"github.com/canopy-network/blockstore/pkg/rpc"
)

// BlobEncoding is the text codec for the message and err columns.
const BlobEncoding = encoding.Base64

// ToRecord maps a node transaction included at slot into its persisted record.
//
// Optional node fields map to nil. Unsigned values are reinterpreted as int64 without range
// checks: a u64 above math.MaxInt64 is stored negative and FromRecord restores it bit for bit.
// Only a message the codec cannot serialize yields an error.
func ToRecord(info *rpc.TransactionInfo, slot uint64) (*blockstore.Transaction, error) {
	message, err := info.Message.MarshalBinary()
	if err != nil {
		return nil, &EncodeError{Field: "message", Err: err}
	}

	record := &blockstore.Transaction{
		Signature:       info.Signature.String(),
		Slot:            int64(slot),
		RecentBlockhash: info.RecentBlockhash.String(),
		Message:         BlobEncoding.Encode(message),
	}

	if len(info.Err) > 0 {
		e := BlobEncoding.Encode(info.Err)
		record.Err = &e
	}
	if info.CURequested != nil {
		v := int64(*info.CURequested)
		record.CURequested = &v
	}
	if info.PrioritizationFees != nil {
		v := int64(*info.PrioritizationFees)
		record.PrioritizationFees = &v
	}
	if info.CUConsumed != nil {
		v := int64(*info.CUConsumed)
		record.CUConsumed = &v
	}

	return record, nil
}

// ToRecords maps every transaction of a block. The first failure aborts the batch.
func ToRecords(infos []rpc.TransactionInfo, slot uint64) ([]*blockstore.Transaction, error) {
	records := make([]*blockstore.Transaction, 0, len(infos))
	for i := range infos {
		r, err := ToRecord(&infos[i], slot)
		if err != nil {
			return nil, fmt.Errorf("transaction %d (%s): %w", i, infos[i].Signature, err)
		}
		records = append(records, r)
	}
	return records, nil
}

// FromRecord rebuilds the node transaction from its persisted record.
//
// Account lists, lookup tables and the vote flag are not persisted. They come back empty and
// false; callers needing them must derive them from the message.
func FromRecord(record *blockstore.Transaction) (*rpc.TransactionInfo, error) {
	sig, err := solana.SignatureFromBase58(record.Signature)
	if err != nil {
		return nil, &DecodeError{Field: "signature", Value: record.Signature, Err: err}
	}

	blockhash, err := solana.HashFromBase58(record.RecentBlockhash)
	if err != nil {
		return nil, &DecodeError{Field: "recent_blockhash", Value: record.RecentBlockhash, Err: err}
	}

	message, err := decodeMessage(record.Message)
	if err != nil {
		return nil, &DecodeError{Field: "message", Value: record.Message, Err: err}
	}

	info := &rpc.TransactionInfo{
		Signature:           sig,
		RecentBlockhash:     blockhash,
		Message:             message,
		ReadableAccounts:    []solana.PublicKey{},
		WritableAccounts:    []solana.PublicKey{},
		AddressLookupTables: []solana.MessageAddressTableLookup{},
	}

	if record.Err != nil {
		raw, err := BlobEncoding.Decode(*record.Err)
		if err != nil {
			return nil, &DecodeError{Field: "err", Value: *record.Err, Err: err}
		}
		if !json.Valid(raw) {
			return nil, &DecodeError{Field: "err", Value: *record.Err, Err: errors.New("not a serialized transaction error")}
		}
		info.Err = raw
	}
	if record.CURequested != nil {
		v := *record.CURequested
		if v < 0 || v > math.MaxUint32 {
			return nil, &DecodeError{Field: "cu_requested", Value: fmt.Sprint(v), Err: errors.New("out of u32 range")}
		}
		u := uint32(v)
		info.CURequested = &u
	}
	if record.PrioritizationFees != nil {
		u := uint64(*record.PrioritizationFees)
		info.PrioritizationFees = &u
	}
	if record.CUConsumed != nil {
		u := uint64(*record.CUConsumed)
		info.CUConsumed = &u
	}

	return info, nil
}

func decodeMessage(s string) (solana.Message, error) {
	var message solana.Message
	raw, err := BlobEncoding.Decode(s)
	if err != nil {
		return message, err
	}
	if len(raw) == 0 {
		return message, errors.New("empty message")
	}
	if err := message.UnmarshalWithDecoder(bin.NewBinDecoder(raw)); err != nil {
		return message, err
	}
	return message, nil
}
