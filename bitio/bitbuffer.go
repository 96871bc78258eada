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

// ----------------

package bitio

import "errors"

// ErrOverflow is returned when a write would exceed a buffer's fixed
// capacity.
var ErrOverflow = errors.New("bitio: write would overflow fixed-capacity buffer")

// Buffer is a fixed-capacity, append-only bit sink supporting mid-stream
// direction switches.
type Buffer struct {
	order    Order
	capacity int
	done     []byte
	curByte  uint8
	curBits  uint8
}

// NewBuffer returns an empty Buffer with room for capacity bytes.
func NewBuffer(capacity int, order Order) *Buffer {
	return &Buffer{order: order, capacity: capacity}
}

func (b *Buffer) usedBytes() int {
	n := len(b.done)
	if b.curBits > 0 {
		n++
	}
	return n
}

// WriteBits appends the low n (0 <= n <= 32) bits of value, packed per the
// buffer's current Order.
func (b *Buffer) WriteBits(value uint32, n int) error {
	if n < 0 || n > 32 {
		return ErrBadArgument
	}
	for i := 0; i < n; i++ {
		var bit uint8
		if b.order == MTL {
			bit = uint8((value >> uint(n-1-i)) & 1)
			b.curByte |= bit << (7 - b.curBits)
		} else {
			bit = uint8((value >> uint(i)) & 1)
			b.curByte |= bit << b.curBits
		}
		b.curBits++
		if b.curBits == 8 {
			if len(b.done)+1 > b.capacity {
				return ErrOverflow
			}
			b.done = append(b.done, b.curByte)
			b.curByte, b.curBits = 0, 0
		}
	}
	return nil
}

// SwitchOrder flushes any fractional current byte (zero-padded in the
// current direction) and sets the packing direction used by subsequent
// writes.
func (b *Buffer) SwitchOrder(order Order) error {
	if b.curBits > 0 {
		if len(b.done)+1 > b.capacity {
			return ErrOverflow
		}
		b.done = append(b.done, b.curByte)
		b.curByte, b.curBits = 0, 0
	}
	b.order = order
	return nil
}

// Bytes returns a copy of the bytes written so far, flushing (but not
// mutating) any fractional trailing byte with zero padding.
func (b *Buffer) Bytes() []byte {
	out := make([]byte, len(b.done), len(b.done)+1)
	copy(out, b.done)
	if b.curBits > 0 {
		out = append(out, b.curByte)
	}
	return out
}
