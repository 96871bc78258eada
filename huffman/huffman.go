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

// Package huffman builds and decodes canonical Huffman tables, as used by
// RFC 1951 DEFLATE.
//
// A canonical Huffman code is fully determined by the per-symbol bit
// lengths: (1) count how many symbols share each length; (2) for each
// length, the smallest code is (previous smallest code + count of the
// previous length) shifted left by one; (3) codes of a given length are
// handed out to symbols in symbol order.
package huffman

import (
	"errors"

	"github.com/google/binpipe/bitio"
)

const maxCodeBits = 15

var (
	// ErrBadTree is returned when the per-symbol lengths do not describe a
	// valid (neither over- nor under-subscribed) canonical Huffman tree.
	ErrBadTree = errors.New("huffman: invalid code-length table")

	// ErrBadSymbol is returned when decoding a bit sequence that does not
	// match any code in the table.
	ErrBadSymbol = errors.New("huffman: bit sequence does not match any code")
)

// Table maps (code, code-length) pairs to a symbol, built from an array of
// per-symbol bit lengths. A length of 0 means the symbol does not
// participate.
type Table struct {
	counts  [maxCodeBits + 1]uint32
	symbols []int32
}

// Build constructs a canonical Huffman Table from per-symbol bit lengths.
func Build(lengths []uint32) (*Table, error) {
	t := &Table{symbols: make([]int32, len(lengths))}

	for _, l := range lengths {
		if l > maxCodeBits {
			return nil, ErrBadTree
		}
		t.counts[l]++
	}
	if int(t.counts[0]) >= len(lengths) {
		return nil, ErrBadTree
	}

	// Detect an over- or under-subscribed tree.
	remaining := uint32(1)
	for i := 1; i <= maxCodeBits; i++ {
		remaining *= 2
		if remaining < t.counts[i] {
			return nil, ErrBadTree
		}
		remaining -= t.counts[i]
	}
	if remaining != 0 {
		// A degenerate tree with a single 1-bit code is allowed (e.g. a
		// DEFLATE distance table for data with no back-references).
		if !((int(t.counts[0])+1 == len(lengths)) && t.counts[1] == 1) {
			return nil, ErrBadTree
		}
	}

	var offsets [maxCodeBits + 1]uint32
	for i := 1; i < maxCodeBits; i++ {
		offsets[i+1] = offsets[i] + t.counts[i]
	}
	for symbol, length := range lengths {
		if length != 0 {
			t.symbols[offsets[length]] = int32(symbol)
			offsets[length]++
		}
	}
	return t, nil
}

// Decode reads a canonical Huffman code from s (which must be in bitio.LTM
// order, matching RFC 1951's bit-packing) one bit at a time, extending a
// code accumulator left-shifted with each bit, and returns the matching
// symbol.
func (t *Table) Decode(s *bitio.Stream) (int32, error) {
	code := uint32(0)
	first := uint32(0)
	symIndex := uint32(0)

	for i := 1; i <= maxCodeBits; i++ {
		bit, err := s.ReadBits(1)
		if err != nil {
			return 0, err
		}
		code |= bit

		count := t.counts[i]
		if code < count+first {
			return t.symbols[symIndex+code-first], nil
		}
		symIndex += count
		first += count
		first <<= 1
		code <<= 1
	}
	return 0, ErrBadSymbol
}
