package codec_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/aretw0/ledger/pkg/codec"
	"github.com/aretw0/ledger/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_PreservesIntegers(t *testing.T) {
	rec := domain.Record{
		Seq:       7,
		Command:   "changeBalance",
		Args:      domain.Args{"id": int64(9007199254740993), "inc": 10000},
		IDs:       []domain.Allocation{{Type: "Account", ID: 3}},
		Timestamp: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	data, err := codec.MarshalRecord(rec)
	require.NoError(t, err)

	got, err := codec.UnmarshalRecord(data)
	require.NoError(t, err)

	id, err := got.Args.Int64("id")
	require.NoError(t, err)
	assert.Equal(t, int64(9007199254740993), id, "large ids must not lose precision")
	assert.Equal(t, rec.IDs, got.IDs)
	assert.True(t, rec.Timestamp.Equal(got.Timestamp))
}

func TestNormalizeArgs(t *testing.T) {
	args, err := codec.NormalizeArgs(domain.Args{"name": "John", "inc": 5})
	require.NoError(t, err)
	assert.Equal(t, json.Number("5"), args["inc"])
	assert.Equal(t, "John", args["name"])

	empty, err := codec.NormalizeArgs(nil)
	require.NoError(t, err)
	assert.NotNil(t, empty)

	_, err = codec.NormalizeArgs(domain.Args{"fn": func() {}})
	assert.ErrorIs(t, err, domain.ErrArgumentType)
}

func TestUnmarshalRecord_Garbage(t *testing.T) {
	_, err := codec.UnmarshalRecord([]byte("{not json"))
	assert.Error(t, err)
}
