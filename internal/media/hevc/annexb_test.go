// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package hevc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// nal builds a NAL unit of type t. For VCL types, first marks
// first_slice_segment_in_pic_flag.
func nal(t byte, first bool, payload ...byte) []byte {
	b := []byte{t << 1, 0x01}
	if IsVCL(t) {
		if first {
			b = append(b, 0x80)
		} else {
			b = append(b, 0x00)
		}
	}
	return append(b, payload...)
}

func TestSplitAndType(t *testing.T) {
	vps, sps, pps := nal(NALVPS, false, 1), nal(NALSPS, false, 2), nal(NALPPS, false, 3)
	idr := nal(NALIDRWRADL, true, 9, 9)
	stream := append([]byte{0, 0, 0, 1}, vps...)
	stream = append(stream, 0, 0, 1)
	stream = append(stream, sps...)
	stream = append(stream, Join(pps, idr)...)

	nals := Split(stream)
	require.Len(t, nals, 4)
	assert.Equal(t, byte(NALVPS), Type(nals[0]))
	assert.Equal(t, byte(NALSPS), Type(nals[1]))
	assert.Equal(t, byte(NALPPS), Type(nals[2]))
	assert.Equal(t, idr, nals[3])
	assert.True(t, Contains(stream, NALVPS))
	assert.False(t, Contains(stream, NALAUD))
}

func TestSplitterGroupsAccessUnits(t *testing.T) {
	vps, sps, pps := nal(NALVPS, false), nal(NALSPS, false), nal(NALPPS, false)
	idr := nal(NALIDRWRADL, true, 1)
	idrSlice2 := nal(NALIDRWRADL, false, 2)
	trail1 := nal(1, true, 3)
	trail2 := nal(1, true, 4)
	stream := Join(vps, sps, pps, idr, idrSlice2, trail1, trail2)

	var s Splitter
	var aus []AccessUnit
	// Feed in awkward chunk sizes to exercise start codes split across writes.
	for i := 0; i < len(stream); i += 3 {
		end := i + 3
		if end > len(stream) {
			end = len(stream)
		}
		aus = append(aus, s.Write(stream[i:end])...)
	}
	aus = append(aus, s.Flush()...)

	require.Len(t, aus, 3)
	assert.True(t, aus[0].Key())
	assert.Len(t, aus[0].NALs, 5)
	assert.Equal(t, Join(vps, sps, pps), aus[0].ParameterSets())
	assert.False(t, aus[1].Key())
	assert.Equal(t, [][]byte{trail1}, aus[1].NALs)
	assert.Equal(t, [][]byte{trail2}, aus[2].NALs)
	assert.Nil(t, aus[2].ParameterSets())
}

func TestSplitterNewAUOnParameterSetsAfterSlice(t *testing.T) {
	first := Join(nal(NALVPS, false), nal(NALCRA, true))
	second := Join(nal(NALVPS, false), nal(NALSPS, false), nal(NALCRA, true))

	var s Splitter
	aus := s.Write(append(first, second...))
	aus = append(aus, s.Flush()...)
	require.Len(t, aus, 2)
	assert.Len(t, aus[1].NALs, 3)
}

func TestAUDBytes(t *testing.T) {
	nals := Split(AUD)
	require.Len(t, nals, 1)
	assert.Equal(t, byte(NALAUD), Type(nals[0]))
}
