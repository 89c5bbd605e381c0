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

// MaxVarintLen is the largest encoded size of a varint.
const MaxVarintLen = 9

// PutVarint writes v into buf using the record varint encoding:
// big-endian groups of seven bits with the high bit as continuation,
// except that a ninth byte, if present, carries a full eight bits.
// buf must have room for MaxVarintLen bytes.
func PutVarint(buf []byte, v uint64) int {
	if v&(uint64(0xff000000)<<32) != 0 {
		buf[8] = byte(v)
		v >>= 8
		for i := 7; i >= 0; i-- {
			buf[i] = byte(v&0x7f) | 0x80
			v >>= 7
		}
		return 9
	}
	var tmp [10]byte
	n := 0
	for {
		tmp[n] = byte(v&0x7f) | 0x80
		n++
		v >>= 7
		if v == 0 {
			break
		}
	}
	tmp[0] &= 0x7f
	for i, j := 0, n-1; j >= 0; i, j = i+1, j-1 {
		buf[i] = tmp[j]
	}
	return n
}

func AppendVarint(dst []byte, v uint64) []byte {
	var buf [MaxVarintLen]byte
	n := PutVarint(buf[:], v)
	return append(dst, buf[:n]...)
}

// GetVarint decodes a varint from the front of buf. It returns the
// value and the number of bytes consumed, or n == 0 if buf ends
// before the varint does.
func GetVarint(buf []byte) (v uint64, n int) {
	for i := 0; i < 8; i++ {
		if i >= len(buf) {
			return 0, 0
		}
		v = v<<7 | uint64(buf[i]&0x7f)
		if buf[i]&0x80 == 0 {
			return v, i + 1
		}
	}
	if len(buf) < 9 {
		return 0, 0
	}
	return v<<8 | uint64(buf[8]), 9
}

// GetVarint32 is GetVarint with the common one-byte case inlined.
// Values that do not fit in 32 bits are clamped to 0xffffffff.
func GetVarint32(buf []byte) (uint32, int) {
	if len(buf) > 0 && buf[0] < 0x80 {
		return uint32(buf[0]), 1
	}
	v, n := GetVarint(buf)
	if v > 0xffffffff {
		v = 0xffffffff
	}
	return uint32(v), n
}

func VarintLen(v uint64) int {
	if v >= 1<<56 {
		return 9
	}
	i := 1
	for v >>= 7; v != 0; v >>= 7 {
		i++
	}
	return i
}
