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

package sorter

import (
	"bytes"
	"cmp"

	"github.com/daviszhen/extsort/pkg/record"
)

// type mask bits: set while every field 0 written so far has the type
const (
	sorterTypeInteger uint8 = 0x01
	sorterTypeText    uint8 = 0x02
)

// sorterCompare orders two serialized keys. key2Cached tells whether
// task.unpacked already holds key2 decoded; implementations set it once
// they decode key2. Malformed keys are reported through
// task.unpacked.Err.
type sorterCompare func(task *subtask, key2Cached *bool, key1, key2 []byte) int

func initialTypeMask(ki *record.KeyInfo) uint8 {
	if ki.NAllField < 13 && record.IsBinary(ki.Coll(0)) && ki.Flags(0)&record.SortBigNull == 0 {
		return sorterTypeInteger | sorterTypeText
	}
	return 0
}

func nextTypeMask(mask uint8, rec []byte) uint8 {
	t, ok := record.FirstSerialType(rec)
	switch {
	case ok && t > 0 && t < 10 && t != record.SerialReal:
		return mask & sorterTypeInteger
	case ok && t > 10 && t&1 == 1:
		return mask & sorterTypeText
	}
	return 0
}

func selectComparator(mask uint8) sorterCompare {
	switch mask {
	case sorterTypeInteger:
		return compareInt
	case sorterTypeText:
		return compareText
	}
	return compareGeneral
}

func comparatorName(mask uint8) string {
	switch mask {
	case sorterTypeInteger:
		return "integer"
	case sorterTypeText:
		return "text"
	}
	return "general"
}

func (task *subtask) unpackKey2(key2Cached *bool, key2 []byte) *record.UnpackedRecord {
	r2 := task.unpacked
	if !*key2Cached {
		ki := task.sorter.keyInfo
		ki.Unpack(key2, r2, ki.NKeyField)
		*key2Cached = true
	}
	return r2
}

func compareGeneral(task *subtask, key2Cached *bool, key1, key2 []byte) int {
	r2 := task.unpackKey2(key2Cached, key2)
	return record.Compare(key1, r2)
}

func compareText(task *subtask, key2Cached *bool, key1, key2 []byte) int {
	v1, ok1 := record.LeadingText(key1)
	v2, ok2 := record.LeadingText(key2)
	if !ok1 || !ok2 {
		return compareGeneral(task, key2Cached, key1, key2)
	}
	res := bytes.Compare(v1, v2)
	if res == 0 {
		if task.sorter.keyInfo.NKeyField > 1 {
			r2 := task.unpackKey2(key2Cached, key2)
			return record.CompareWithSkip(key1, r2, true)
		}
		return 0
	}
	if task.sorter.keyInfo.Flags(0)&record.SortDesc != 0 {
		res = -res
	}
	return res
}

func compareInt(task *subtask, key2Cached *bool, key1, key2 []byte) int {
	v1, ok1 := record.LeadingInt(key1)
	v2, ok2 := record.LeadingInt(key2)
	if !ok1 || !ok2 {
		return compareGeneral(task, key2Cached, key1, key2)
	}
	res := cmp.Compare(v1, v2)
	if res == 0 {
		if task.sorter.keyInfo.NKeyField > 1 {
			r2 := task.unpackKey2(key2Cached, key2)
			return record.CompareWithSkip(key1, r2, true)
		}
		return 0
	}
	if task.sorter.keyInfo.Flags(0)&record.SortDesc != 0 {
		res = -res
	}
	return res
}
