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

	"github.com/huandu/go-clone"
)

type SortFlag uint8

const (
	SortDesc SortFlag = 0x01
	// SortBigNull makes NULL sort larger than every other value.
	SortBigNull SortFlag = 0x02
)

type Collation interface {
	Name() string
	Compare(a, b []byte) int
}

type binaryCollation struct{}

func (binaryCollation) Name() string { return "BINARY" }

func (binaryCollation) Compare(a, b []byte) int {
	return bytes.Compare(a, b)
}

type nocaseCollation struct{}

func (nocaseCollation) Name() string { return "NOCASE" }

// Compare folds ASCII letters only.
func (nocaseCollation) Compare(a, b []byte) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		ca, cb := lowerASCII(a[i]), lowerASCII(b[i])
		if ca != cb {
			if ca < cb {
				return -1
			}
			return 1
		}
	}
	return sign(len(a) - len(b))
}

func lowerASCII(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c + ('a' - 'A')
	}
	return c
}

type rtrimCollation struct{}

func (rtrimCollation) Name() string { return "RTRIM" }

func (rtrimCollation) Compare(a, b []byte) int {
	return bytes.Compare(bytes.TrimRight(a, " "), bytes.TrimRight(b, " "))
}

var (
	Binary Collation = binaryCollation{}
	NoCase Collation = nocaseCollation{}
	RTrim  Collation = rtrimCollation{}
)

func IsBinary(c Collation) bool {
	if c == nil {
		return true
	}
	_, ok := c.(binaryCollation)
	return ok
}

func CollationByName(name string) (Collation, bool) {
	switch name {
	case "", "BINARY", "binary":
		return Binary, true
	case "NOCASE", "nocase":
		return NoCase, true
	case "RTRIM", "rtrim":
		return RTrim, true
	}
	return nil, false
}

// KeyInfo describes how the leading fields of a record are ordered.
// NKeyField is the number of fields compared, NAllField the number of
// fields a record may carry. Colls and SortFlags have NAllField entries;
// a nil collation is BINARY.
type KeyInfo struct {
	NKeyField int
	NAllField int
	Colls     []Collation
	SortFlags []SortFlag
}

func NewKeyInfo(nKey, nAll int) *KeyInfo {
	nAll = max(nAll, nKey)
	return &KeyInfo{
		NKeyField: nKey,
		NAllField: nAll,
		Colls:     make([]Collation, nAll),
		SortFlags: make([]SortFlag, nAll),
	}
}

// Clone returns a private copy so that callers may adjust it without
// touching a KeyInfo shared with a query plan.
func (ki *KeyInfo) Clone() *KeyInfo {
	return clone.Clone(ki).(*KeyInfo)
}

func (ki *KeyInfo) Coll(i int) Collation {
	if i < len(ki.Colls) && ki.Colls[i] != nil {
		return ki.Colls[i]
	}
	return Binary
}

func (ki *KeyInfo) Flags(i int) SortFlag {
	if i < len(ki.SortFlags) {
		return ki.SortFlags[i]
	}
	return 0
}

func (ki *KeyInfo) SetDesc(i int, desc bool) *KeyInfo {
	if desc {
		ki.SortFlags[i] |= SortDesc
	} else {
		ki.SortFlags[i] &^= SortDesc
	}
	return ki
}

func (ki *KeyInfo) SetBigNull(i int, big bool) *KeyInfo {
	if big {
		ki.SortFlags[i] |= SortBigNull
	} else {
		ki.SortFlags[i] &^= SortBigNull
	}
	return ki
}

func (ki *KeyInfo) SetColl(i int, c Collation) *KeyInfo {
	ki.Colls[i] = c
	return ki
}

func sign(v int) int {
	switch {
	case v < 0:
		return -1
	case v > 0:
		return 1
	}
	return 0
}
