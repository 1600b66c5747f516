// Package codec encodes journal records.
//
// Records are JSON documents decoded with UseNumber, so integers survive a
// round trip without collapsing into float64. The engine also runs live
// arguments through NormalizeArgs, which makes a handler see the same values
// on first execution and on replay.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/aretw0/ledger/pkg/domain"
)

// MarshalRecord encodes a record.
func MarshalRecord(rec domain.Record) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal record %d: %w", rec.Seq, err)
	}
	return data, nil
}

// UnmarshalRecord decodes a record produced by MarshalRecord.
func UnmarshalRecord(data []byte) (domain.Record, error) {
	var rec domain.Record
	if err := decode(data, &rec); err != nil {
		return domain.Record{}, fmt.Errorf("unmarshal record: %w", err)
	}
	return rec, nil
}

// MarshalArgs encodes an argument bag on its own.
func MarshalArgs(args domain.Args) ([]byte, error) {
	if args == nil {
		return []byte("null"), nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("marshal args: %w", err)
	}
	return data, nil
}

// UnmarshalArgs decodes an argument bag encoded by MarshalArgs.
func UnmarshalArgs(data []byte) (domain.Args, error) {
	var args domain.Args
	if err := decode(data, &args); err != nil {
		return nil, fmt.Errorf("unmarshal args: %w", err)
	}
	return args, nil
}

// NormalizeArgs returns the bag exactly as it will look after replay.
// Values that cannot be encoded are rejected with ErrArgumentType.
func NormalizeArgs(args domain.Args) (domain.Args, error) {
	if len(args) == 0 {
		return domain.Args{}, nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrArgumentType, err)
	}
	out, err := UnmarshalArgs(data)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func decode(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}
