// Package wire encodes the aggregation jobs exchanged through the work and
// result queues in protobuf wire format.
//
//	Job     { 1: batch string; 2: repeated Segment }
//	Segment { 1: index varint; 2: packed weights double; 3: packed ranks double }
//	Result  { 1: batch string; 2: packed indexes varint; 3: packed sums double }
package wire

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

const ContentType = "application/x-protobuf"

var ErrMalformed = errors.New("malformed message")

// Segment carries, for every incoming edge of a destination, the edge
// weight and the current rank of its source
type Segment struct {
	Index   int32 // Position in the master's segment list
	Weights []float64
	Ranks   []float64
}

type Job struct {
	Batch    string // Correlation id of the iteration
	Segments []Segment
}

type Result struct {
	Batch   string
	Indexes []int32
	Sums    []float64
}

func MarshalJob(job *Job) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, job.Batch)
	for _, segment := range job.Segments {
		var s []byte
		s = protowire.AppendTag(s, 1, protowire.VarintType)
		s = protowire.AppendVarint(s, uint64(segment.Index))
		s = appendDoubles(s, 2, segment.Weights)
		s = appendDoubles(s, 3, segment.Ranks)
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, s)
	}
	return b
}

func UnmarshalJob(b []byte) (*Job, error) {
	job := &Job{}
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			job.Batch = v
			return n, nil
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			segment, err := unmarshalSegment(v)
			if err != nil {
				return 0, err
			}
			job.Segments = append(job.Segments, segment)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	if err != nil {
		return nil, fmt.Errorf("job: %w", err)
	}
	return job, nil
}

func unmarshalSegment(b []byte) (Segment, error) {
	var segment Segment
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			segment.Index = int32(v)
			return n, nil
		case num == 2 && typ == protowire.BytesType:
			return consumeDoubles(b, &segment.Weights)
		case num == 3 && typ == protowire.BytesType:
			return consumeDoubles(b, &segment.Ranks)
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	if err != nil {
		return segment, err
	}
	if len(segment.Weights) != len(segment.Ranks) {
		return segment, fmt.Errorf("%w: segment %d has %d weights and %d ranks",
			ErrMalformed, segment.Index, len(segment.Weights), len(segment.Ranks))
	}
	return segment, nil
}

func MarshalResult(result *Result) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, result.Batch)
	if len(result.Indexes) > 0 {
		var packed []byte
		for _, index := range result.Indexes {
			packed = protowire.AppendVarint(packed, uint64(index))
		}
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
	}
	b = appendDoubles(b, 3, result.Sums)
	return b
}

func UnmarshalResult(b []byte) (*Result, error) {
	result := &Result{}
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			result.Batch = v
			return n, nil
		case num == 2 && typ == protowire.BytesType:
			packed, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			for len(packed) > 0 {
				v, m := protowire.ConsumeVarint(packed)
				if m < 0 {
					return m, nil
				}
				result.Indexes = append(result.Indexes, int32(v))
				packed = packed[m:]
			}
			return n, nil
		case num == 3 && typ == protowire.BytesType:
			return consumeDoubles(b, &result.Sums)
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	if err != nil {
		return nil, fmt.Errorf("result: %w", err)
	}
	if len(result.Indexes) != len(result.Sums) {
		return nil, fmt.Errorf("result: %w: %d indexes and %d sums",
			ErrMalformed, len(result.Indexes), len(result.Sums))
	}
	return result, nil
}

// consumeFields walks the fields of b; consume returns the number of bytes
// of the field value it read (negative on parse errors)
func consumeFields(b []byte, consume func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		n, err := consume(num, typ, b)
		if err != nil {
			return err
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
	}
	return nil
}

func appendDoubles(b []byte, num protowire.Number, values []float64) []byte {
	if len(values) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	b = protowire.AppendVarint(b, uint64(len(values)*8))
	for _, v := range values {
		b = protowire.AppendFixed64(b, math.Float64bits(v))
	}
	return b
}

func consumeDoubles(b []byte, values *[]float64) (int, error) {
	packed, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return n, nil
	}
	if len(packed)%8 != 0 {
		return 0, fmt.Errorf("%w: packed doubles of %d bytes", ErrMalformed, len(packed))
	}
	for len(packed) > 0 {
		v, m := protowire.ConsumeFixed64(packed)
		if m < 0 {
			return m, nil
		}
		*values = append(*values, math.Float64frombits(v))
		packed = packed[m:]
	}
	return n, nil
}
