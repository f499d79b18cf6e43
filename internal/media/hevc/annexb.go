// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package hevc splits Annex-B H.265 byte streams into NAL units and access units.
package hevc

import "bytes"

// NAL unit types used for access unit framing.
const (
	NALIDRWRADL  = 19
	NALIDRNLP    = 20
	NALCRA       = 21
	NALVPS       = 32
	NALSPS       = 33
	NALPPS       = 34
	NALAUD       = 35
	NALPrefixSEI = 39
)

// AUD is an access unit delimiter (pic_type 2) with a 4-byte start code.
var AUD = []byte{0x00, 0x00, 0x00, 0x01, 0x46, 0x01, 0x50}

var startCode = []byte{0x00, 0x00, 0x01}

// Type returns the nal_unit_type of a NAL unit without start code.
func Type(nal []byte) byte {
	if len(nal) == 0 {
		return 0xFF
	}
	return (nal[0] >> 1) & 0x3F
}

// IsVCL reports whether the type carries slice data.
func IsVCL(t byte) bool { return t < 32 }

// IsIRAP reports whether the type is a random access point (BLA, IDR, CRA).
func IsIRAP(t byte) bool { return t >= 16 && t <= 23 }

// IsParameterSet reports VPS, SPS or PPS.
func IsParameterSet(t byte) bool { return t == NALVPS || t == NALSPS || t == NALPPS }

// firstSliceSegment reads first_slice_segment_in_pic_flag of a VCL NAL.
func firstSliceSegment(nal []byte) bool {
	return len(nal) > 2 && nal[2]&0x80 != 0
}

// startsAU reports whether a NAL begins a new access unit when the current
// one already holds slice data.
func startsAU(nal []byte) bool {
	t := Type(nal)
	if IsVCL(t) {
		return firstSliceSegment(nal)
	}
	return IsParameterSet(t) || t == NALAUD || t == NALPrefixSEI
}

// Split returns the NAL units of a complete Annex-B buffer, without start codes.
func Split(data []byte) [][]byte {
	var nals [][]byte
	i := bytes.Index(data, startCode)
	if i < 0 {
		return nil
	}
	data = data[i+3:]
	for len(data) > 0 {
		j := bytes.Index(data, startCode)
		if j < 0 {
			if nal := trimTrailingZeros(data); len(nal) > 0 {
				nals = append(nals, nal)
			}
			break
		}
		if nal := trimTrailingZeros(data[:j]); len(nal) > 0 {
			nals = append(nals, nal)
		}
		data = data[j+3:]
	}
	return nals
}

func trimTrailingZeros(b []byte) []byte {
	for len(b) > 0 && b[len(b)-1] == 0 {
		b = b[:len(b)-1]
	}
	return b
}

// Join writes NAL units with 4-byte start codes.
func Join(nals ...[]byte) []byte {
	n := 0
	for _, nal := range nals {
		n += 4 + len(nal)
	}
	out := make([]byte, 0, n)
	for _, nal := range nals {
		out = append(out, 0, 0, 0, 1)
		out = append(out, nal...)
	}
	return out
}

// Contains reports whether an Annex-B buffer holds a NAL of type t.
func Contains(data []byte, t byte) bool {
	for _, nal := range Split(data) {
		if Type(nal) == t {
			return true
		}
	}
	return false
}

// AccessUnit is one coded picture with its leading non-VCL NAL units.
type AccessUnit struct {
	NALs [][]byte
}

// Key reports whether the picture is a random access point.
func (au AccessUnit) Key() bool {
	for _, nal := range au.NALs {
		if IsIRAP(Type(nal)) {
			return true
		}
	}
	return false
}

// ParameterSets returns VPS, SPS and PPS in stream order as Annex-B.
func (au AccessUnit) ParameterSets() []byte {
	var ps [][]byte
	for _, nal := range au.NALs {
		if IsParameterSet(Type(nal)) {
			ps = append(ps, nal)
		}
	}
	if len(ps) == 0 {
		return nil
	}
	return Join(ps...)
}

func (au AccessUnit) hasVCL() bool {
	for _, nal := range au.NALs {
		if IsVCL(Type(nal)) {
			return true
		}
	}
	return false
}

// Bytes returns the access unit as Annex-B.
func (au AccessUnit) Bytes() []byte { return Join(au.NALs...) }

// Splitter turns an arbitrarily chunked Annex-B stream into access units.
type Splitter struct {
	buf     []byte
	started bool
	cur     AccessUnit
}

// Write consumes stream bytes and returns the access units completed by them.
func (s *Splitter) Write(p []byte) []AccessUnit {
	s.buf = append(s.buf, p...)
	var out []AccessUnit
	for {
		if !s.started {
			i := bytes.Index(s.buf, startCode)
			if i < 0 {
				// Keep a possible partial start code.
				if len(s.buf) > 2 {
					s.buf = s.buf[len(s.buf)-2:]
				}
				return out
			}
			s.buf = s.buf[i+3:]
			s.started = true
		}
		j := bytes.Index(s.buf, startCode)
		if j < 0 {
			return out
		}
		nal := trimTrailingZeros(s.buf[:j])
		if len(nal) > 0 {
			if au, ok := s.push(append([]byte(nil), nal...)); ok {
				out = append(out, au)
			}
		}
		s.buf = s.buf[j+3:]
	}
}

// Flush returns the access units still buffered at end of stream.
func (s *Splitter) Flush() []AccessUnit {
	var out []AccessUnit
	if s.started {
		if nal := trimTrailingZeros(s.buf); len(nal) > 0 {
			if au, ok := s.push(append([]byte(nil), nal...)); ok {
				out = append(out, au)
			}
		}
	}
	if s.cur.hasVCL() {
		out = append(out, s.cur)
	}
	s.buf, s.started, s.cur = nil, false, AccessUnit{}
	return out
}

func (s *Splitter) push(nal []byte) (AccessUnit, bool) {
	if s.cur.hasVCL() && startsAU(nal) {
		done := s.cur
		s.cur = AccessUnit{NALs: [][]byte{nal}}
		return done, true
	}
	s.cur.NALs = append(s.cur.NALs, nal)
	return AccessUnit{}, false
}
