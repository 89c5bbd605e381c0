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

package main

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	dec "github.com/govalues/decimal"
	"github.com/pkg/errors"

	"github.com/daviszhen/extsort/pkg/record"
)

// parseRecord splits one input line into field values. Fields are
// separated by commas; text literals may contain commas and use ''
// for an embedded quote.
func parseRecord(line string) ([]record.Value, error) {
	var vals []record.Value
	rest := strings.TrimSpace(line)
	if rest == "" {
		return nil, nil
	}
	for {
		var field string
		var err error
		field, rest, err = nextField(rest)
		if err != nil {
			return nil, err
		}
		val, err := parseValue(field)
		if err != nil {
			return nil, errors.Wrapf(err, "field %d", len(vals))
		}
		vals = append(vals, val)
		if rest == "" {
			return vals, nil
		}
		// skip the separator
		rest = strings.TrimSpace(rest[1:])
	}
}

// nextField returns the next raw field and the remainder starting at
// the separating comma, or empty at end of line.
func nextField(s string) (string, string, error) {
	inQuote := false
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '\'':
			if inQuote && i+1 < len(s) && s[i+1] == '\'' {
				i++
				continue
			}
			inQuote = !inQuote
		case c == ',' && !inQuote:
			return strings.TrimSpace(s[:i]), s[i:], nil
		}
	}
	if inQuote {
		return "", "", errors.Errorf("unterminated text literal: %s", s)
	}
	return strings.TrimSpace(s), "", nil
}

func parseValue(field string) (record.Value, error) {
	switch {
	case field == "":
		return record.Value{}, errors.New("empty field")
	case strings.EqualFold(field, "NULL"):
		return record.Null(), nil
	case field[0] == '\'':
		return parseText(field)
	case len(field) > 1 && (field[0] == 'x' || field[0] == 'X') && field[1] == '\'':
		return parseBlob(field[1:])
	}
	return parseNumber(field)
}

func parseText(field string) (record.Value, error) {
	if len(field) < 2 || field[len(field)-1] != '\'' {
		return record.Value{}, errors.Errorf("bad text literal: %s", field)
	}
	return record.Text(strings.ReplaceAll(field[1:len(field)-1], "''", "'")), nil
}

func parseBlob(field string) (record.Value, error) {
	if len(field) < 2 || field[len(field)-1] != '\'' {
		return record.Value{}, errors.Errorf("bad blob literal: x%s", field)
	}
	b, err := hex.DecodeString(field[1 : len(field)-1])
	if err != nil {
		return record.Value{}, errors.Wrapf(err, "bad blob literal: x%s", field)
	}
	return record.Blob(b), nil
}

// parseNumber keeps whole numbers that fit in 64 bits as integers and
// turns everything else into a real.
func parseNumber(field string) (record.Value, error) {
	d, err := dec.Parse(field)
	if err != nil {
		// exponents and values beyond decimal's precision
		f, ferr := strconv.ParseFloat(field, 64)
		if ferr != nil {
			return record.Value{}, errors.Wrapf(err, "bad number: %s", field)
		}
		return record.Real(f), nil
	}
	if d.Scale() == 0 {
		if whole, _, ok := d.Int64(0); ok {
			return record.Int(whole), nil
		}
	}
	f, ok := d.Float64()
	if !ok {
		return record.Value{}, errors.Errorf("number out of range: %s", field)
	}
	return record.Real(f), nil
}

// formatValue is the inverse of parseValue.
func formatValue(v record.Value) string {
	switch v.Kind {
	case record.KindNull:
		return "NULL"
	case record.KindInt:
		return strconv.FormatInt(v.I, 10)
	case record.KindReal:
		s := strconv.FormatFloat(v.F, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eEnNI") {
			s += ".0"
		}
		return s
	case record.KindText:
		return "'" + strings.ReplaceAll(string(v.B), "'", "''") + "'"
	case record.KindBlob:
		b := v.B
		if v.Zero > 0 {
			b = append(append([]byte(nil), b...), make([]byte, v.Zero)...)
		}
		return fmt.Sprintf("x'%x'", b)
	}
	return "?"
}

func formatRecord(vals []record.Value) string {
	fields := make([]string, len(vals))
	for i, v := range vals {
		fields[i] = formatValue(v)
	}
	return strings.Join(fields, ", ")
}
