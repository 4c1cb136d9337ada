package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestJobRoundTrip(t *testing.T) {
	t.Parallel()
	job := &Job{
		Batch: "V1StGXR8_Z5jdHi6B-myT",
		Segments: []Segment{
			{Index: 0, Weights: []float64{0.5, 1}, Ranks: []float64{0.8, 1.25}},
			{Index: 7, Weights: []float64{0.25}, Ranks: []float64{3}},
		},
	}
	decoded, err := UnmarshalJob(MarshalJob(job))
	require.NoError(t, err)
	assert.Equal(t, job, decoded)
}

func TestResultRoundTrip(t *testing.T) {
	t.Parallel()
	result := &Result{Batch: "b", Indexes: []int32{3, 0, 300}, Sums: []float64{0.1, 0, -2}}
	decoded, err := UnmarshalResult(MarshalResult(result))
	require.NoError(t, err)
	assert.Equal(t, result, decoded)

	empty, err := UnmarshalResult(MarshalResult(&Result{Batch: "b"}))
	require.NoError(t, err)
	assert.Equal(t, "b", empty.Batch)
	assert.Empty(t, empty.Indexes)
}

func TestUnknownFieldsSkipped(t *testing.T) {
	t.Parallel()
	b := MarshalResult(&Result{Batch: "b", Indexes: []int32{1}, Sums: []float64{2}})
	b = protowire.AppendTag(b, 9, protowire.VarintType)
	b = protowire.AppendVarint(b, 42)
	decoded, err := UnmarshalResult(b)
	require.NoError(t, err)
	assert.Equal(t, []float64{2}, decoded.Sums)
}

func TestMalformed(t *testing.T) {
	t.Parallel()

	_, err := UnmarshalResult(MarshalResult(&Result{Batch: "b", Indexes: []int32{1, 2}, Sums: []float64{1}}))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = UnmarshalJob(MarshalJob(&Job{Segments: []Segment{{Weights: []float64{1, 1}, Ranks: []float64{1}}}}))
	assert.ErrorIs(t, err, ErrMalformed)

	var odd []byte
	odd = protowire.AppendTag(odd, 3, protowire.BytesType)
	odd = protowire.AppendBytes(odd, []byte{1, 2, 3})
	_, err = UnmarshalResult(odd)
	assert.ErrorIs(t, err, ErrMalformed)

	truncated := MarshalJob(&Job{Batch: "batch", Segments: []Segment{{Weights: []float64{1}, Ranks: []float64{1}}}})
	_, err = UnmarshalJob(truncated[:len(truncated)-3])
	assert.Error(t, err)

	_, err = UnmarshalJob([]byte{0xff})
	assert.Error(t, err)
}
