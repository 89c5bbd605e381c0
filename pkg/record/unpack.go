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
	"github.com/daviszhen/extsort/pkg/util"
)

// UnpackedRecord is the decoded right-hand side of a comparison.
//
// DefaultRC is returned when every compared field is equal and one
// side runs out of fields. R1 and R2 are the results the leading-field
// fast paths return when the left key is smaller or larger; FindCompare
// sets them from the sort order of field 0. Err is set when the left
// record turns out to be malformed.
type UnpackedRecord struct {
	KeyInfo   *KeyInfo
	Fields    []Value
	NField    int
	DefaultRC int
	R1, R2    int
	EqSeen    bool
	Err       error
}

func (ki *KeyInfo) NewUnpacked() *UnpackedRecord {
	return &UnpackedRecord{
		KeyInfo: ki,
		Fields:  make([]Value, 0, ki.NAllField+1),
		R1:      -1,
		R2:      1,
	}
}

// Unpack decodes at most nField leading fields of rec into r. A record
// that is cut short leaves r.NField at the number of complete fields
// and sets r.Err.
func (ki *KeyInfo) Unpack(rec []byte, r *UnpackedRecord, nField int) {
	r.KeyInfo = ki
	r.Fields = r.Fields[:0]
	r.NField = 0
	r.EqSeen = false
	szHdr, n := GetVarint32(rec)
	if n == 0 || int(szHdr) > len(rec) || int(szHdr) < n {
		r.Err = util.CorruptErrorf("record header size %d exceeds record length %d", szHdr, len(rec))
		return
	}
	idx, d := n, int(szHdr)
	for idx < int(szHdr) && len(r.Fields) < nField {
		t, m := GetVarint(rec[idx:szHdr])
		if m == 0 || isReserved(t) {
			r.Err = util.CorruptErrorf("bad serial type at header offset %d", idx)
			break
		}
		idx += m
		sz := SerialTypeLen(t)
		if sz > len(rec)-d {
			r.Err = util.CorruptErrorf("field %d runs past end of record", len(r.Fields))
			break
		}
		r.Fields = append(r.Fields, decodeField(rec[d:], t))
		d += sz
	}
	r.NField = len(r.Fields)
}

// UnpackKey is Unpack into a fresh UnpackedRecord with NKeyField fields.
func (ki *KeyInfo) UnpackKey(rec []byte) (*UnpackedRecord, error) {
	r := ki.NewUnpacked()
	ki.Unpack(rec, r, ki.NKeyField)
	return r, r.Err
}
