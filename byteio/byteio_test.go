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

package byteio

import (
	"errors"
	"testing"
)

func TestLittleEndianNumber(t *testing.T) {
	s := NewFromBytes([]byte{0x01, 0x02, 0x03, 0x04})
	v, err := s.ReadNumber(4)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0x04030201 {
		t.Errorf("v = %#x, want 0x04030201", v)
	}
}

func TestBigEndianNumber(t *testing.T) {
	s := NewFromBytes([]byte{0x01, 0x02, 0x03, 0x04})
	s.SetOrder(BigEndian)
	v, err := s.ReadNumber(4)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0x01020304 {
		t.Errorf("v = %#x, want 0x01020304", v)
	}
}

func TestSignedNumberRoundTrip(t *testing.T) {
	for _, tc := range []struct {
		n   int
		raw uint32
		sv  int32
	}{
		{1, 0x7F, 127},
		{1, 0x80, -128},
		{2, 0x7FFF, 32767},
		{2, 0x8000, -32768},
		{4, 0x7FFFFFFF, 2147483647},
		{4, 0x80000000, -2147483648},
	} {
		bb := NewBuffer(4)
		if err := bb.WriteNumber(tc.raw, tc.n); err != nil {
			t.Fatalf("n=%d raw=%#x: %v", tc.n, tc.raw, err)
		}
		s := NewFromBytes(bb.Bytes())
		got, err := s.ReadSignedNumber(tc.n)
		if err != nil {
			t.Fatal(err)
		}
		if got != tc.sv {
			t.Errorf("n=%d raw=%#x: got %d, want %d", tc.n, tc.raw, got, tc.sv)
		}
	}
}

func TestReadStringASCII(t *testing.T) {
	s := NewFromBytes([]byte("hello"))
	got, err := s.ReadString(5)
	if err != nil {
		t.Fatal(err)
	}
	if got != "hello" {
		t.Errorf("got %q, want %q", got, "hello")
	}
}

func TestReadStringRejectsNonASCII(t *testing.T) {
	s := NewFromBytes([]byte{0x68, 0xFF})
	if _, err := s.ReadString(2); !errors.Is(err, ErrBadArgument) {
		t.Errorf("err = %v, want ErrBadArgument", err)
	}
}

func TestPeekDoesNotAdvance(t *testing.T) {
	s := NewFromBytes([]byte{0x01, 0x02, 0x03})
	p, err := s.PeekBytes(2)
	if err != nil {
		t.Fatal(err)
	}
	r, err := s.ReadBytes(2)
	if err != nil {
		t.Fatal(err)
	}
	if string(p) != string(r) {
		t.Errorf("peek %v != read %v", p, r)
	}
	if s.ConsumedBytes() != 2 {
		t.Errorf("consumed = %d, want 2", s.ConsumedBytes())
	}
}

func TestOverrunThenPushResumes(t *testing.T) {
	s := NewFromBytes([]byte{0x01})
	if _, err := s.ReadBytes(4); !errors.Is(err, ErrBufferOverrun) {
		t.Fatalf("err = %v, want ErrBufferOverrun", err)
	}
	s.Push([]byte{0x02, 0x03, 0x04})
	got, err := s.ReadBytes(4)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0x01, 0x02, 0x03, 0x04}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("byte %d: got %#x want %#x", i, got[i], want[i])
		}
	}
}

func TestZeroReadsDoNotAdvance(t *testing.T) {
	s := NewFromBytes([]byte{0xFF})
	if b, err := s.ReadBytes(0); err != nil || len(b) != 0 {
		t.Fatalf("ReadBytes(0) = %v, %v", b, err)
	}
	if err := s.Skip(0); err != nil {
		t.Fatalf("Skip(0) = %v", err)
	}
	if s.ConsumedBytes() != 0 {
		t.Errorf("consumed = %d, want 0", s.ConsumedBytes())
	}
}

func TestTeeIsolation(t *testing.T) {
	s := NewFromBytes([]byte{0x01, 0x02, 0x03, 0x04})
	if _, err := s.ReadBytes(1); err != nil {
		t.Fatal(err)
	}
	clone := s.Tee()
	if _, err := clone.ReadBytes(2); err != nil {
		t.Fatal(err)
	}
	if s.ConsumedBytes() != 1 {
		t.Errorf("original consumed = %d, want 1", s.ConsumedBytes())
	}
	s.Push([]byte{0x05})
	if _, err := clone.ReadBytes(2); !errors.Is(err, ErrBufferOverrun) {
		t.Errorf("clone should not see post-Tee pushes, err=%v", err)
	}
}

func TestBufferWriteOutOfRangeIsHardError(t *testing.T) {
	bb := NewBuffer(4)
	if err := bb.WriteNumber(0x100, 1); !errors.Is(err, ErrBadArgument) {
		t.Errorf("err = %v, want ErrBadArgument", err)
	}
}

func TestBufferOverflowIsHardError(t *testing.T) {
	bb := NewBuffer(2)
	if err := bb.InsertBytes([]byte{1, 2}); err != nil {
		t.Fatal(err)
	}
	if err := bb.InsertByte(3); !errors.Is(err, ErrOverflow) {
		t.Errorf("err = %v, want ErrOverflow", err)
	}
}

func TestBufferWriteNonASCIIIsHardError(t *testing.T) {
	bb := NewBuffer(4)
	if err := bb.WriteASCIIString("abc\xff"); !errors.Is(err, ErrBadArgument) {
		t.Errorf("err = %v, want ErrBadArgument", err)
	}
}
