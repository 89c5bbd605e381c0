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
	"fmt"
	"strconv"
)

type Kind uint8

const (
	KindNull Kind = iota
	KindInt
	KindReal
	KindText
	KindBlob
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInt:
		return "integer"
	case KindReal:
		return "real"
	case KindText:
		return "text"
	case KindBlob:
		return "blob"
	default:
		return fmt.Sprintf("kind(%d)", k)
	}
}

// Value is one decoded field. Text and blob payloads alias the record
// they were decoded from. Zero counts implied trailing zero bytes of a
// blob that are not materialized in B.
type Value struct {
	Kind Kind
	I    int64
	F    float64
	B    []byte
	Zero int
}

func Null() Value {
	return Value{Kind: KindNull}
}

func Int(v int64) Value {
	return Value{Kind: KindInt, I: v}
}

func Real(v float64) Value {
	return Value{Kind: KindReal, F: v}
}

func Text(s string) Value {
	return Value{Kind: KindText, B: []byte(s)}
}

func Blob(b []byte) Value {
	return Value{Kind: KindBlob, B: b}
}

// ZeroBlob is a blob of b followed by n zero bytes.
func ZeroBlob(b []byte, n int) Value {
	return Value{Kind: KindBlob, B: b, Zero: n}
}

func (v Value) IsNull() bool {
	return v.Kind == KindNull
}

func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return "NULL"
	case KindInt:
		return strconv.FormatInt(v.I, 10)
	case KindReal:
		return strconv.FormatFloat(v.F, 'g', -1, 64)
	case KindText:
		return strconv.Quote(string(v.B))
	case KindBlob:
		if v.Zero > 0 {
			return fmt.Sprintf("x'%x'+zero(%d)", v.B, v.Zero)
		}
		return fmt.Sprintf("x'%x'", v.B)
	}
	return "?"
}
