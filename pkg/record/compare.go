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
	"cmp"
	"encoding/binary"
	"math"

	"github.com/daviszhen/extsort/pkg/util"
)

// CompareFunc compares a serialized record with an unpacked one and
// returns -1, 0 or +1.
type CompareFunc func(key1 []byte, r2 *UnpackedRecord) int

// IntFloatCompare compares an integer with a float without rounding
// the integer through a float64 first. NaN is smaller than every
// integer.
func IntFloatCompare(i int64, r float64) int {
	if math.IsNaN(r) {
		return 1
	}
	if r < -9223372036854775808.0 {
		return 1
	}
	if r >= 9223372036854775808.0 {
		return -1
	}
	y := int64(r)
	if i < y {
		return -1
	}
	if i > y {
		return 1
	}
	s := float64(i)
	if s < r {
		return -1
	}
	if s > r {
		return 1
	}
	return 0
}

func isAllZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

// blobCompare compares blob a (fully materialized) with blob b followed
// by bZero zero bytes.
func blobCompare(a, b []byte, bZero int) int {
	if bZero == 0 {
		return bytes.Compare(a, b)
	}
	n := min(len(a), len(b))
	if rc := bytes.Compare(a[:n], b[:n]); rc != 0 {
		return rc
	}
	if len(a) < len(b) {
		return -1
	}
	bLen := len(b) + bZero
	tail := a[len(b):min(len(a), bLen)]
	if !isAllZero(tail) {
		return 1
	}
	return sign(len(a) - bLen)
}

// BlobCompare compares two blob values, either of which may carry an
// implied zero tail.
func BlobCompare(a, b Value) int {
	if a.Zero == 0 {
		return blobCompare(a.B, b.B, b.Zero)
	}
	if b.Zero == 0 {
		return -blobCompare(b.B, a.B, a.Zero)
	}
	full := make([]byte, len(a.B)+a.Zero)
	copy(full, a.B)
	return blobCompare(full, b.B, b.Zero)
}

func kindRank(k Kind) int {
	switch k {
	case KindNull:
		return 0
	case KindInt, KindReal:
		return 1
	case KindText:
		return 2
	}
	return 3
}

// MemCompare orders two values: NULL < numbers < text < blob.
func MemCompare(a, b Value, coll Collation) int {
	ra, rb := kindRank(a.Kind), kindRank(b.Kind)
	if ra != rb {
		return cmp.Compare(ra, rb)
	}
	switch ra {
	case 0:
		return 0
	case 1:
		switch {
		case a.Kind == KindInt && b.Kind == KindInt:
			return cmp.Compare(a.I, b.I)
		case a.Kind == KindReal && b.Kind == KindReal:
			return cmp.Compare(a.F, b.F)
		case a.Kind == KindInt:
			return IntFloatCompare(a.I, b.F)
		default:
			return -IntFloatCompare(b.I, a.F)
		}
	case 2:
		if coll == nil {
			coll = Binary
		}
		return sign(coll.Compare(a.B, b.B))
	}
	return sign(BlobCompare(a, b))
}

func Compare(key1 []byte, r2 *UnpackedRecord) int {
	return CompareWithSkip(key1, r2, false)
}

func corrupt(r2 *UnpackedRecord, format string, args ...any) int {
	if r2.Err == nil {
		r2.Err = util.CorruptErrorf(format, args...)
	}
	return 0
}

// CompareWithSkip compares serialized key1 with r2 field by field. With
// skipFirst the caller already knows field 0 is equal on both sides.
//
// The result is negative when key1 sorts first. When every compared
// field matches, r2.EqSeen is set and r2.DefaultRC returned. A
// malformed key1 sets r2.Err and yields 0.
func CompareWithSkip(key1 []byte, r2 *UnpackedRecord, skipFirst bool) int {
	szHdr32, n := GetVarint32(key1)
	if n == 0 || int(szHdr32) > len(key1) || int(szHdr32) < n {
		return corrupt(r2, "record header size %d exceeds record length %d", szHdr32, len(key1))
	}
	szHdr := int(szHdr32)
	idx1, d1, i := n, szHdr, 0
	if skipFirst {
		t, m := GetVarint(key1[idx1:szHdr])
		if m == 0 {
			return corrupt(r2, "truncated serial type at header offset %d", idx1)
		}
		idx1 += m
		sz := SerialTypeLen(t)
		if sz > len(key1)-d1 {
			return corrupt(r2, "field 0 runs past end of record")
		}
		d1 += sz
		i = 1
	}
	ki := r2.KeyInfo
	for i < r2.NField && idx1 < szHdr {
		st, m := GetVarint(key1[idx1:szHdr])
		if m == 0 || isReserved(st) {
			return corrupt(r2, "bad serial type at header offset %d", idx1)
		}
		sz := SerialTypeLen(st)
		if sz > len(key1)-d1 {
			return corrupt(r2, "field %d runs past end of record", i)
		}
		rhs := &r2.Fields[i]
		lhs := key1[d1 : d1+sz]
		lhsNull := st == SerialNull
		if st == SerialReal && math.IsNaN(math.Float64frombits(binary.BigEndian.Uint64(lhs))) {
			lhsNull = true
		}
		rc := 0
		switch rhs.Kind {
		case KindInt:
			switch {
			case lhsNull:
				rc = -1
			case st >= 12:
				rc = 1
			case st == SerialReal:
				rc = -IntFloatCompare(rhs.I, math.Float64frombits(binary.BigEndian.Uint64(lhs)))
			default:
				rc = cmp.Compare(decodeInt(lhs, st), rhs.I)
			}
		case KindReal:
			switch {
			case lhsNull:
				rc = -1
			case st >= 12:
				rc = 1
			case st == SerialReal:
				rc = cmp.Compare(math.Float64frombits(binary.BigEndian.Uint64(lhs)), rhs.F)
			default:
				rc = IntFloatCompare(decodeInt(lhs, st), rhs.F)
			}
		case KindText:
			switch {
			case st < 12 || lhsNull:
				rc = -1
			case st&1 == 0:
				rc = 1
			default:
				rc = sign(ki.Coll(i).Compare(lhs, rhs.B))
			}
		case KindBlob:
			switch {
			case st < 12 || st&1 == 1:
				rc = -1
			default:
				rc = sign(blobCompare(lhs, rhs.B, rhs.Zero))
			}
		default:
			if !lhsNull {
				rc = 1
			}
		}
		if rc != 0 {
			flags := ki.Flags(i)
			if flags != 0 {
				anyNull := lhsNull || rhs.Kind == KindNull
				if flags&SortBigNull == 0 || (flags&SortDesc != 0) != anyNull {
					rc = -rc
				}
			}
			return rc
		}
		i++
		idx1 += m
		d1 += sz
	}
	r2.EqSeen = true
	return r2.DefaultRC
}
