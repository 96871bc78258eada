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

package bitio

import (
	"errors"
	"testing"
)

func TestMTLReads(t *testing.T) {
	s := NewFromBytes([]byte{0xB9, 0x42}, MTL)
	want := []uint32{2, 7, 5, 2}
	for i, n := range []int{2, 3, 5, 6} {
		got, err := s.ReadBits(n)
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		if got != want[i] {
			t.Errorf("read %d: got %d, want %d", i, got, want[i])
		}
	}
}

func TestLTMReads(t *testing.T) {
	s := NewFromBytes([]byte{0xB9, 0x42}, LTM)
	want := []uint32{1, 6, 21, 16}
	for i, n := range []int{2, 3, 5, 6} {
		got, err := s.ReadBits(n)
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		if got != want[i] {
			t.Errorf("read %d: got %d, want %d", i, got, want[i])
		}
	}
}

func TestPeekDoesNotAdvance(t *testing.T) {
	s := NewFromBytes([]byte{0xB9, 0x42}, MTL)
	peeked, err := s.PeekBits(5)
	if err != nil {
		t.Fatal(err)
	}
	read, err := s.ReadBits(5)
	if err != nil {
		t.Fatal(err)
	}
	if peeked != read {
		t.Errorf("peek %d != read %d", peeked, read)
	}
	if s.ConsumedBits() != 5 {
		t.Errorf("consumed = %d, want 5", s.ConsumedBits())
	}
}

func TestZeroReadsDoNotAdvance(t *testing.T) {
	s := NewFromBytes([]byte{0xFF}, MTL)
	if v, err := s.ReadBits(0); err != nil || v != 0 {
		t.Fatalf("ReadBits(0) = %d, %v", v, err)
	}
	if b, err := s.ReadBytes(0); err != nil || len(b) != 0 {
		t.Fatalf("ReadBytes(0) = %v, %v", b, err)
	}
	if err := s.Skip(0); err != nil {
		t.Fatalf("Skip(0) = %v", err)
	}
	if s.ConsumedBits() != 0 {
		t.Errorf("consumed = %d, want 0", s.ConsumedBits())
	}
}

func TestOverrunIsDistinguishable(t *testing.T) {
	s := NewFromBytes([]byte{0xFF}, MTL)
	if _, err := s.ReadBits(16); !errors.Is(err, ErrBufferOverrun) {
		t.Fatalf("err = %v, want ErrBufferOverrun", err)
	}
}

func TestPushResumesAfterOverrun(t *testing.T) {
	s := NewFromBytes([]byte{0xFF}, MTL)
	if _, err := s.ReadBits(16); !errors.Is(err, ErrBufferOverrun) {
		t.Fatalf("err = %v", err)
	}
	s.Push([]byte{0x00})
	v, err := s.ReadBits(16)
	if err != nil {
		t.Fatalf("after push: %v", err)
	}
	if v != 0xFF00 {
		t.Errorf("v = %#x, want 0xFF00", v)
	}
}

func TestReadBytesAligns(t *testing.T) {
	s := NewFromBytes([]byte{0xFF, 0xAB}, MTL)
	if _, err := s.ReadBits(3); err != nil {
		t.Fatal(err)
	}
	b, err := s.ReadBytes(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(b) != 1 || b[0] != 0xAB {
		t.Errorf("b = %v, want [0xAB]", b)
	}
}

func TestTeeIsolation(t *testing.T) {
	s := NewFromBytes([]byte{0xB9, 0x42}, MTL)
	if _, err := s.ReadBits(4); err != nil {
		t.Fatal(err)
	}
	clone := s.Tee()

	if _, err := clone.ReadBits(4); err != nil {
		t.Fatal(err)
	}
	if s.ConsumedBits() != 4 {
		t.Errorf("original consumed = %d, want 4 (clone reads must not affect it)", s.ConsumedBits())
	}

	s.Push([]byte{0x01})
	if _, err := clone.ReadBits(16); !errors.Is(err, ErrBufferOverrun) {
		t.Errorf("clone should not see pages pushed to original after Tee, got err=%v", err)
	}
}

func TestBufferMTLRoundTrip(t *testing.T) {
	buf := NewBuffer(4, MTL)
	for _, w := range []struct {
		v uint32
		n int
	}{{2, 2}, {7, 3}, {5, 5}, {2, 6}} {
		if err := buf.WriteBits(w.v, w.n); err != nil {
			t.Fatal(err)
		}
	}
	got := buf.Bytes()
	want := []byte{0xB9, 0x42}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("got %x, want %x", got, want)
	}
}

func TestBufferSwitchOrderPadsAndAligns(t *testing.T) {
	buf := NewBuffer(4, MTL)
	if err := buf.WriteBits(0x1, 3); err != nil {
		t.Fatal(err)
	}
	if err := buf.SwitchOrder(LTM); err != nil {
		t.Fatal(err)
	}
	if err := buf.WriteBits(0x1, 1); err != nil {
		t.Fatal(err)
	}
	got := buf.Bytes()
	if len(got) != 2 {
		t.Fatalf("got %d bytes, want 2 (switch flushes the fractional byte)", len(got))
	}
	if got[0] != 0b00100000 {
		t.Errorf("first byte = %08b, want 00100000", got[0])
	}
}

func TestBufferOverflowIsHardError(t *testing.T) {
	buf := NewBuffer(1, MTL)
	if err := buf.WriteBits(0xFF, 8); err != nil {
		t.Fatal(err)
	}
	if err := buf.WriteBits(0x1, 8); !errors.Is(err, ErrOverflow) {
		t.Errorf("err = %v, want ErrOverflow", err)
	}
}
