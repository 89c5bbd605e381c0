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
	"encoding/binary"
	"math"

	"github.com/daviszhen/extsort/pkg/util"
)

const (
	SerialNull  uint64 = 0
	SerialInt8  uint64 = 1
	SerialInt16 uint64 = 2
	SerialInt24 uint64 = 3
	SerialInt32 uint64 = 4
	SerialInt48 uint64 = 5
	SerialInt64 uint64 = 6
	SerialReal  uint64 = 7
	SerialZero  uint64 = 8
	SerialOne   uint64 = 9
	// 10 and 11 are reserved.
	SerialBlobBase uint64 = 12
	SerialTextBase uint64 = 13
)

const max6Byte = 0x00007fffffffffff

var smallTypeLen = [12]int{0, 1, 2, 3, 4, 6, 8, 8, 0, 0, 0, 0}

// SerialTypeLen is the number of payload bytes for serial type t.
func SerialTypeLen(t uint64) int {
	if t >= 12 {
		return int((t - 12) / 2)
	}
	return smallTypeLen[t]
}

func IsIntSerial(t uint64) bool {
	return (t >= SerialInt8 && t <= SerialInt64) || t == SerialZero || t == SerialOne
}

func IsTextSerial(t uint64) bool {
	return t >= SerialTextBase && t&1 == 1
}

func IsBlobSerial(t uint64) bool {
	return t >= SerialBlobBase && t&1 == 0
}

func isReserved(t uint64) bool {
	return t == 10 || t == 11
}

// SerialTypeFor picks the smallest serial type able to hold v.
func SerialTypeFor(v Value) uint64 {
	switch v.Kind {
	case KindNull:
		return SerialNull
	case KindInt:
		i := v.I
		var u uint64
		if i < 0 {
			u = uint64(^i)
		} else {
			u = uint64(i)
		}
		switch {
		case u <= 127:
			if i&1 == i {
				return SerialZero + u
			}
			return SerialInt8
		case u <= 32767:
			return SerialInt16
		case u <= 8388607:
			return SerialInt24
		case u <= 2147483647:
			return SerialInt32
		case u <= max6Byte:
			return SerialInt48
		}
		return SerialInt64
	case KindReal:
		if math.IsNaN(v.F) {
			return SerialNull
		}
		return SerialReal
	case KindText:
		return uint64(len(v.B))*2 + SerialTextBase
	case KindBlob:
		return uint64(len(v.B)+v.Zero)*2 + SerialBlobBase
	}
	panic("unknown value kind")
}

// decodeInt sign-extends the big-endian integer of serial type t.
func decodeInt(b []byte, t uint64) int64 {
	switch t {
	case SerialZero:
		return 0
	case SerialOne:
		return 1
	case SerialInt64:
		return int64(binary.BigEndian.Uint64(b))
	}
	n := smallTypeLen[t]
	var raw uint64
	for i := 0; i < n; i++ {
		raw = raw<<8 | uint64(b[i])
	}
	shift := uint(64 - 8*n)
	return int64(raw<<shift) >> shift
}

func putInt(b []byte, v int64, t uint64) {
	n := SerialTypeLen(t)
	u := uint64(v)
	for i := n - 1; i >= 0; i-- {
		b[i] = byte(u)
		u >>= 8
	}
}

// decodeField builds the Value for serial type t from payload p.
// p must hold at least SerialTypeLen(t) bytes.
func decodeField(p []byte, t uint64) Value {
	switch {
	case t == SerialNull || isReserved(t):
		return Null()
	case t == SerialReal:
		f := math.Float64frombits(binary.BigEndian.Uint64(p))
		if math.IsNaN(f) {
			return Null()
		}
		return Real(f)
	case t < 12:
		return Int(decodeInt(p, t))
	case t&1 == 1:
		n := SerialTypeLen(t)
		return Value{Kind: KindText, B: p[:n:n]}
	default:
		n := SerialTypeLen(t)
		return Value{Kind: KindBlob, B: p[:n:n]}
	}
}

func headerSize(n int) int {
	if n <= 126 {
		return n + 1
	}
	nv := VarintLen(uint64(n))
	n += nv
	if nv < VarintLen(uint64(n)) {
		n++
	}
	return n
}

// AppendRecord appends the serialized form of vals to dst.
func AppendRecord(dst []byte, vals ...Value) []byte {
	types := make([]uint64, len(vals))
	for i, v := range vals {
		types[i] = SerialTypeFor(v)
	}
	rec, err := appendTyped(dst, vals, types)
	util.AssertFunc(err == nil)
	return rec
}

func Encode(vals ...Value) []byte {
	return AppendRecord(nil, vals...)
}

// EncodeTyped serializes vals using the given serial types. It allows
// non-minimal integer widths; types[i] == 0 for a non-null value
// selects the minimal type.
func EncodeTyped(vals []Value, types []uint64) ([]byte, error) {
	fixed := make([]uint64, len(vals))
	for i, v := range vals {
		t := uint64(0)
		if i < len(types) {
			t = types[i]
		}
		if t == 0 || v.Kind != KindInt {
			t = SerialTypeFor(v)
		} else if !IsIntSerial(t) {
			return nil, util.CorruptErrorf("serial type %d cannot hold an integer", t)
		} else if (t == SerialZero && v.I != 0) || (t == SerialOne && v.I != 1) {
			return nil, util.CorruptErrorf("serial type %d cannot hold %d", t, v.I)
		} else if t != SerialZero && t != SerialOne && t != SerialInt64 {
			bits := uint(8 * SerialTypeLen(t))
			lo, hi := -(int64(1) << (bits - 1)), int64(1)<<(bits-1)-1
			if v.I < lo || v.I > hi {
				return nil, util.CorruptErrorf("serial type %d cannot hold %d", t, v.I)
			}
		}
		fixed[i] = t
	}
	return appendTyped(nil, vals, fixed)
}

func appendTyped(dst []byte, vals []Value, types []uint64) ([]byte, error) {
	nHdr, nData := 0, 0
	for _, t := range types {
		nHdr += VarintLen(t)
		nData += SerialTypeLen(t)
	}
	szHdr := headerSize(nHdr)
	start := len(dst)
	total := szHdr + nData
	if cap(dst)-start < total {
		grown := make([]byte, start, start+total)
		copy(grown, dst)
		dst = grown
	}
	dst = dst[:start+total]
	rec := dst[start:]
	hdr := PutVarint(rec, uint64(szHdr))
	data := szHdr
	for i, t := range types {
		hdr += PutVarint(rec[hdr:], t)
		v := vals[i]
		n := SerialTypeLen(t)
		switch {
		case t == SerialReal:
			binary.BigEndian.PutUint64(rec[data:], math.Float64bits(v.F))
		case t >= SerialInt8 && t <= SerialInt64:
			putInt(rec[data:], v.I, t)
		case t >= 12:
			copy(rec[data:data+n], v.B)
			clear(rec[data+len(v.B) : data+n])
		}
		data += n
	}
	util.AssertFunc(hdr == szHdr && data == total)
	return dst, nil
}

// Header returns the header size of rec and the serial types it lists.
func Header(rec []byte) (int, []uint64, error) {
	szHdr, n := GetVarint32(rec)
	if n == 0 || int(szHdr) > len(rec) || int(szHdr) < n {
		return 0, nil, util.CorruptErrorf("record header size %d exceeds record length %d", szHdr, len(rec))
	}
	var types []uint64
	idx := n
	for idx < int(szHdr) {
		t, m := GetVarint(rec[idx:szHdr])
		if m == 0 {
			return 0, nil, util.CorruptErrorf("truncated serial type at header offset %d", idx)
		}
		types = append(types, t)
		idx += m
	}
	return int(szHdr), types, nil
}

// Decode fully decodes rec. Text and blob values alias rec.
func Decode(rec []byte) ([]Value, error) {
	szHdr, types, err := Header(rec)
	if err != nil {
		return nil, err
	}
	vals := make([]Value, 0, len(types))
	d := szHdr
	for i, t := range types {
		if isReserved(t) {
			return nil, util.CorruptErrorf("reserved serial type %d in field %d", t, i)
		}
		n := SerialTypeLen(t)
		if n > len(rec)-d {
			return nil, util.CorruptErrorf("field %d runs past end of record", i)
		}
		vals = append(vals, decodeField(rec[d:], t))
		d += n
	}
	return vals, nil
}

// FirstSerialType returns the serial type of field 0 of rec.
func FirstSerialType(rec []byte) (uint64, bool) {
	if len(rec) < 2 {
		return 0, false
	}
	szHdr, n := GetVarint32(rec)
	if n == 0 || int(szHdr) <= n || int(szHdr) > len(rec) {
		return 0, false
	}
	t, m := GetVarint(rec[n:szHdr])
	if m == 0 {
		return 0, false
	}
	return t, true
}

// LeadingInt decodes field 0 of rec when rec has a one-byte header and
// field 0 is an integer. Any other shape reports false.
func LeadingInt(rec []byte) (int64, bool) {
	if len(rec) < 2 || rec[0] >= 0x80 || rec[1] >= 0x80 {
		return 0, false
	}
	t := uint64(rec[1])
	if !IsIntSerial(t) {
		return 0, false
	}
	szHdr := int(rec[0])
	if szHdr < 2 || szHdr > len(rec) || SerialTypeLen(t) > len(rec)-szHdr {
		return 0, false
	}
	return decodeInt(rec[szHdr:], t), true
}

// LeadingText returns the payload of field 0 when rec has a one-byte
// header and field 0 is text.
func LeadingText(rec []byte) ([]byte, bool) {
	if len(rec) < 2 || rec[0] >= 0x80 {
		return nil, false
	}
	t, m := GetVarint(rec[1:])
	if m == 0 || !IsTextSerial(t) {
		return nil, false
	}
	szHdr := int(rec[0])
	n := SerialTypeLen(t)
	if szHdr < 1+m || szHdr > len(rec) || n > len(rec)-szHdr {
		return nil, false
	}
	return rec[szHdr : szHdr+n], true
}
