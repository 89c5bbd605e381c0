// Copyright 2023-2024 daviszhen
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package record

import (
	"bytes"
)

// CompareLeadingInt is Compare for an r2 whose field 0 is an integer.
// Only key1 records with a one-byte header are handled directly.
func CompareLeadingInt(key1 []byte, r2 *UnpackedRecord) int {
	if len(key1) < 2 || key1[0] >= 0x80 || key1[1] >= 0x80 {
		return Compare(key1, r2)
	}
	szHdr := int(key1[0])
	st := uint64(key1[1])
	var lhs int64
	switch {
	case st >= SerialInt8 && st <= SerialInt64:
		if szHdr < 2 || szHdr > len(key1) || SerialTypeLen(st) > len(key1)-szHdr {
			return corrupt(r2, "leading integer runs past end of record")
		}
		lhs = decodeInt(key1[szHdr:], st)
	case st == SerialZero:
		lhs = 0
	case st == SerialOne:
		lhs = 1
	default:
		// NULL, REAL, text and blob need the full comparison
		return Compare(key1, r2)
	}
	v := r2.Fields[0].I
	switch {
	case v > lhs:
		return r2.R1
	case v < lhs:
		return r2.R2
	case r2.NField > 1:
		return CompareWithSkip(key1, r2, true)
	}
	r2.EqSeen = true
	return r2.DefaultRC
}

// CompareLeadingText is Compare for an r2 whose field 0 is text under
// the BINARY collation.
func CompareLeadingText(key1 []byte, r2 *UnpackedRecord) int {
	if len(key1) < 2 || key1[0] >= 0x80 {
		return Compare(key1, r2)
	}
	st, m := GetVarint(key1[1:])
	if m == 0 {
		return corrupt(r2, "truncated serial type")
	}
	switch {
	case st < 12:
		return r2.R1
	case st&1 == 0:
		return r2.R2
	}
	szHdr := int(key1[0])
	nStr := SerialTypeLen(st)
	if szHdr < 1+m || szHdr > len(key1) || nStr > len(key1)-szHdr {
		return corrupt(r2, "leading text runs past end of record")
	}
	rhs := r2.Fields[0].B
	nCmp := min(nStr, len(rhs))
	res := bytes.Compare(key1[szHdr:szHdr+nCmp], rhs[:nCmp])
	if res == 0 {
		res = sign(nStr - len(rhs))
		if res == 0 {
			if r2.NField > 1 {
				return CompareWithSkip(key1, r2, true)
			}
			r2.EqSeen = true
			return r2.DefaultRC
		}
	}
	if res > 0 {
		return r2.R2
	}
	return r2.R1
}

// FindCompare picks the comparison routine for r2 and primes R1/R2.
func FindCompare(r2 *UnpackedRecord) CompareFunc {
	ki := r2.KeyInfo
	if ki.NAllField > 13 || r2.NField == 0 {
		return Compare
	}
	flags := ki.Flags(0)
	if flags&SortDesc != 0 {
		if flags&SortBigNull != 0 {
			return Compare
		}
		r2.R1, r2.R2 = 1, -1
	} else {
		r2.R1, r2.R2 = -1, 1
	}
	f0 := r2.Fields[0]
	switch {
	case f0.Kind == KindInt:
		return CompareLeadingInt
	case f0.Kind == KindText && IsBinary(ki.Coll(0)) && flags&SortBigNull == 0:
		return CompareLeadingText
	}
	return Compare
}
