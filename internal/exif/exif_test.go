// Copyright 2019 The Wuffs Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package exif

import (
	"bytes"
	"errors"
	"testing"
)

// buildTIFF assembles a minimal little-endian TIFF block with one IFD
// holding two entries: an inline SHORT and an out-of-line ASCII string.
func buildTIFF(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString("II")
	buf.Write([]byte{0x2A, 0x00})
	buf.Write([]byte{8, 0, 0, 0}) // first IFD at offset 8

	buf.Write([]byte{2, 0}) // entry count = 2

	// Entry 1: tag 0x0100 (ImageWidth), SHORT, count 1, value 42 inline.
	buf.Write([]byte{0x00, 0x01})
	buf.Write([]byte{byte(FormatShort), 0})
	buf.Write([]byte{1, 0, 0, 0})
	buf.Write([]byte{42, 0, 0, 0})

	// Entry 2: tag 0x010E (ImageDescription), ASCII, count 6, stored
	// out-of-line since 6 > 4 bytes.
	const value = "hello\x00"
	valueOffset := 8 + 2 + 2*12 + 4 // header + count + two 12-byte entries + next-IFD-offset
	buf.Write([]byte{0x0E, 0x01})
	buf.Write([]byte{byte(FormatASCII), 0})
	buf.Write([]byte{byte(len(value)), 0, 0, 0})
	vo := uint32(valueOffset)
	buf.Write([]byte{byte(vo), byte(vo >> 8), byte(vo >> 16), byte(vo >> 24)})

	buf.Write([]byte{0, 0, 0, 0}) // next-IFD-offset = 0 (terminal)
	buf.WriteString(value)

	return buf.Bytes()
}

func TestParseReadsInlineAndOutOfLineEntries(t *testing.T) {
	data := buildTIFF(t)
	entries, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Tag != 0x0100 || entries[0].RawValue[0] != 42 {
		t.Errorf("entry 0 = %+v, want tag 0x0100 value 42", entries[0])
	}
	if entries[1].Tag != 0x010E || string(entries[1].RawValue) != "hello\x00" {
		t.Errorf("entry 1 = %q, want %q", entries[1].RawValue, "hello\x00")
	}
}

func TestParseRejectsBadByteOrder(t *testing.T) {
	_, err := Parse([]byte{'X', 'X', 0, 0, 0, 0, 0, 0})
	if err != ErrBadByteOrder {
		t.Fatalf("err = %v, want ErrBadByteOrder", err)
	}
}

func TestParseDetectsCyclicIFDChain(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("II")
	buf.Write([]byte{0x2A, 0x00})
	buf.Write([]byte{8, 0, 0, 0})
	buf.Write([]byte{0, 0})          // zero entries
	buf.Write([]byte{8, 0, 0, 0})    // next-IFD-offset points back at itself

	_, err := Parse(buf.Bytes())
	if !errors.Is(err, ErrOffsetOutOfRange) {
		t.Fatalf("err = %v, want wrapped ErrOffsetOutOfRange", err)
	}
}
