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

package util

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrNoMem   = errors.New("out of memory")
	ErrIO      = errors.New("disk I/O error")
	ErrCorrupt = errors.New("database disk image is malformed")
	ErrTooBig  = errors.New("string or blob too big")
	ErrMisuse  = errors.New("library routine called out of sequence")
)

type kindError struct {
	kind  error
	cause error
	msg   string
}

func (e *kindError) Error() string {
	if e.cause == nil {
		return fmt.Sprintf("%s: %v", e.msg, e.kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.msg, e.kind, e.cause)
}

func (e *kindError) Is(target error) bool {
	return target == e.kind
}

func (e *kindError) Unwrap() error {
	return e.cause
}

// IOErrorf classifies cause as ErrIO. errors.Is matches both ErrIO and
// the cause.
func IOErrorf(cause error, format string, args ...any) error {
	return errors.WithStack(&kindError{
		kind:  ErrIO,
		cause: cause,
		msg:   fmt.Sprintf(format, args...),
	})
}

func CorruptErrorf(format string, args ...any) error {
	return errors.Wrapf(ErrCorrupt, format, args...)
}

func TooBigErrorf(format string, args ...any) error {
	return errors.Wrapf(ErrTooBig, format, args...)
}

func NoMemErrorf(format string, args ...any) error {
	return errors.Wrapf(ErrNoMem, format, args...)
}
