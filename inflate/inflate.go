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

// Package inflate implements RFC 1951 DEFLATE decompression: canonical
// Huffman table construction (via the sibling huffman package), fixed and
// dynamic block handling, and length/distance back-reference copying,
// including self-overlapping references.
//
// When the whole compressed buffer is already in hand, Decode first tries
// github.com/klauspost/compress/flate as a fast path; on any error it
// falls through to the hand-written decoder below, which is also the only
// path usable when input arrives as partial, incrementally-pushed pages
// (the archive layer relies on that: see the bitio.ErrBufferOverrun
// handling in archive/gzip).
package inflate

import (
	"bytes"
	"errors"
	"io"

	kcompress "github.com/klauspost/compress/flate"

	"github.com/google/binpipe/bitio"
	"github.com/google/binpipe/huffman"
)

var (
	// ErrReservedBlockType is the BTYPE==11 case: always fatal.
	ErrReservedBlockType = errors.New("inflate: reserved block type (BTYPE=3)")

	// ErrBadStoredLength is returned when a stored block's NLEN field does
	// not match the ones'-complement of LEN (checked only when strict
	// validation is requested; see spec.md Open Question iii).
	ErrBadStoredLength = errors.New("inflate: stored block LEN/NLEN mismatch")

	// ErrBadDistance is returned when a length/distance back-reference
	// points before the start of the output produced so far.
	ErrBadDistance = errors.New("inflate: distance too far back")
)

// codeOrder is the permutation RFC 1951 section 3.2.7 uses when reading
// the code-length alphabet's own code lengths.
var codeOrder = [19]uint32{16, 17, 18, 0, 8, 7, 9, 6, 10, 5, 11, 4, 12, 3, 13, 2, 14, 1, 15}

// The length and distance base/extra-bits tables from RFC 1951 section
// 3.2.5. lBases/lExtras are indexed by (symbol - 257).
var (
	lBases = [29]uint32{
		3, 4, 5, 6, 7, 8, 9, 10, 11, 13, 15, 17, 19, 23, 27, 31,
		35, 43, 51, 59, 67, 83, 99, 115, 131, 163, 195, 227, 258,
	}
	lExtras = [29]uint32{
		0, 0, 0, 0, 0, 0, 0, 0, 1, 1, 1, 1, 2, 2, 2, 2,
		3, 3, 3, 3, 4, 4, 4, 4, 5, 5, 5, 5, 0,
	}
	dBases = [30]uint32{
		1, 2, 3, 4, 5, 7, 9, 13, 17, 25, 33, 49, 65, 97, 129, 193,
		257, 385, 513, 769, 1025, 1537, 2049, 3073, 4097, 6145, 8193, 12289, 16385, 24577,
	}
	dExtras = [30]uint32{
		0, 0, 0, 0, 1, 1, 2, 2, 3, 3, 4, 4, 5, 5, 6, 6,
		7, 7, 8, 8, 9, 9, 10, 10, 11, 11, 12, 12, 13, 13,
	}
)

// Options configures optional extra validation. The zero value matches
// the permissive defaults of the source this toolkit is modeled on.
type Options struct {
	// StrictStoredLength rejects a stored block whose NLEN is not the
	// ones'-complement of LEN, instead of merely trusting LEN.
	StrictStoredLength bool
}

var fixedLDecoder, fixedDDecoder *huffman.Table

func init() {
	lengths := make([]uint32, 288)
	i := 0
	for ; i < 144; i++ {
		lengths[i] = 8
	}
	for ; i < 256; i++ {
		lengths[i] = 9
	}
	for ; i < 280; i++ {
		lengths[i] = 7
	}
	for ; i < 288; i++ {
		lengths[i] = 8
	}
	t, err := huffman.Build(lengths)
	if err != nil {
		panic(err)
	}
	fixedLDecoder = t

	dlengths := make([]uint32, 32)
	for i := range dlengths {
		dlengths[i] = 5
	}
	dt, err := huffman.Build(dlengths)
	if err != nil {
		panic(err)
	}
	fixedDDecoder = dt
}

// Decode decompresses a complete DEFLATE stream. hint, if positive,
// pre-sizes the output buffer.
//
// It first tries a best-effort fast path through
// github.com/klauspost/compress/flate; if that fails for any reason (for
// example because encoded isn't a complete, well-formed stream), it falls
// through to the decoder in this package.
func Decode(encoded []byte, hint int, opts Options) ([]byte, error) {
	if out, err := decodeFast(encoded, hint); err == nil {
		return out, nil
	}
	d := NewDecoder(encoded, opts)
	return d.Decode(hint)
}

func decodeFast(encoded []byte, hint int) ([]byte, error) {
	r := kcompress.NewReader(bytes.NewReader(encoded))
	defer r.Close()
	buf := bytes.NewBuffer(make([]byte, 0, maxInt(hint, 0)))
	if _, err := io.Copy(buf, r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Decoder is the incremental, paged decoder required whenever input
// arrives in pieces (the archive layer's "waiting for more bytes" state).
// A bitio.ErrBufferOverrun from any Decoder method means exactly that:
// push more bytes via Push and retry.
type Decoder struct {
	bits *bitio.Stream
	opts Options
}

// NewDecoder wraps a (possibly partial) compressed buffer.
func NewDecoder(encoded []byte, opts Options) *Decoder {
	return &Decoder{bits: bitio.NewFromBytes(encoded, bitio.LTM), opts: opts}
}

// Push supplies another page of compressed bytes, for resuming after a
// bitio.ErrBufferOverrun.
func (d *Decoder) Push(b []byte) { d.bits.Push(b) }

// Checkpoint returns a snapshot of the decoder's bit-level read position,
// for rolling back a failed Decode attempt (see Restore). This mirrors the
// tee-rollback pattern the archive decoders use at the byte level, applied
// here so a wrapping format like GZIP can retry Decode as more pages
// arrive without losing partially-read block state.
func (d *Decoder) Checkpoint() *bitio.Stream { return d.bits.Tee() }

// Restore rolls the decoder back to a snapshot returned by Checkpoint.
func (d *Decoder) Restore(snapshot *bitio.Stream) { d.bits = snapshot }

// Bits returns the underlying bit stream, positioned immediately after the
// most recently decoded block. Callers like archive/gzip use this to read
// a byte-aligned trailer (CRC-32, ISIZE) that immediately follows a raw
// DEFLATE stream; Decode itself has no notion of what, if anything,
// follows the final block.
func (d *Decoder) Bits() *bitio.Stream { return d.bits }

// Decode runs the block loop to completion (through the final block's
// BFINAL=1), returning the decompressed bytes.
func (d *Decoder) Decode(hint int) ([]byte, error) {
	out := make([]byte, 0, maxInt(hint, 64))
	for {
		final, err := d.bits.ReadBits(1)
		if err != nil {
			return nil, err
		}
		btype, err := d.bits.ReadBits(2)
		if err != nil {
			return nil, err
		}
		switch btype {
		case 0:
			out, err = d.doStored(out)
		case 1:
			out, err = d.doBlock(out, fixedLDecoder, fixedDDecoder)
		case 2:
			out, err = d.doDynamic(out)
		default:
			return nil, ErrReservedBlockType
		}
		if err != nil {
			return nil, err
		}
		if final != 0 {
			return out, nil
		}
	}
}

// BytesConsumed reports how many whole bytes of encoded input the decoder
// has consumed, after aligning to the next byte boundary (DEFLATE does
// not guarantee its final block ends on a byte boundary, but a wrapping
// format like GZIP resumes parsing at the next byte).
func (d *Decoder) BytesConsumed() uint64 {
	d.bits.Align()
	return d.bits.ConsumedBytes()
}

func (d *Decoder) doStored(out []byte) ([]byte, error) {
	d.bits.Align()
	lenBytes, err := d.bits.ReadBytes(2)
	if err != nil {
		return nil, err
	}
	nlenBytes, err := d.bits.ReadBytes(2)
	if err != nil {
		return nil, err
	}
	length := uint32(lenBytes[0]) | uint32(lenBytes[1])<<8
	nlen := uint32(nlenBytes[0]) | uint32(nlenBytes[1])<<8
	if d.opts.StrictStoredLength && (length^0xFFFF) != nlen {
		return nil, ErrBadStoredLength
	}
	payload, err := d.bits.ReadBytes(int(length))
	if err != nil {
		return nil, err
	}
	return append(out, payload...), nil
}

func (d *Decoder) doDynamic(out []byte) ([]byte, error) {
	numLCodes, err := d.bits.ReadBits(5)
	if err != nil {
		return nil, err
	}
	numLCodes += 257
	numDCodes, err := d.bits.ReadBits(5)
	if err != nil {
		return nil, err
	}
	numDCodes += 1
	numCLCodes, err := d.bits.ReadBits(4)
	if err != nil {
		return nil, err
	}
	numCLCodes += 4

	clLengths := make([]uint32, 19)
	for i := uint32(0); i < numCLCodes; i++ {
		v, err := d.bits.ReadBits(3)
		if err != nil {
			return nil, err
		}
		clLengths[codeOrder[i]] = v
	}
	clTable, err := huffman.Build(clLengths)
	if err != nil {
		return nil, err
	}

	total := numLCodes + numDCodes
	lengths := make([]uint32, total)
	for i := uint32(0); i < total; {
		sym, err := clTable.Decode(d.bits)
		if err != nil {
			return nil, err
		}
		switch {
		case sym < 16:
			lengths[i] = uint32(sym)
			i++

		case sym == 16:
			if i == 0 {
				return nil, huffman.ErrBadTree
			}
			n, err := d.bits.ReadBits(2)
			if err != nil {
				return nil, err
			}
			n += 3
			prev := lengths[i-1]
			for ; n > 0 && i < total; n-- {
				lengths[i] = prev
				i++
			}

		case sym == 17:
			n, err := d.bits.ReadBits(3)
			if err != nil {
				return nil, err
			}
			n += 3
			for ; n > 0 && i < total; n-- {
				lengths[i] = 0
				i++
			}

		case sym == 18:
			n, err := d.bits.ReadBits(7)
			if err != nil {
				return nil, err
			}
			n += 11
			for ; n > 0 && i < total; n-- {
				lengths[i] = 0
				i++
			}

		default:
			return nil, huffman.ErrBadSymbol
		}
	}

	lTable, err := huffman.Build(lengths[:numLCodes])
	if err != nil {
		return nil, err
	}
	dTable, err := huffman.Build(lengths[numLCodes:])
	if err != nil {
		return nil, err
	}
	return d.doBlock(out, lTable, dTable)
}

// doBlock runs the symbol loop for a single fixed- or dynamic-Huffman
// block: literals are appended directly, length/distance pairs copy from
// earlier in out, byte by byte so that self-overlapping references (e.g.
// length=5, distance=2 after "...XY" producing "XYXYX") work correctly.
func (d *Decoder) doBlock(out []byte, lTable, dTable *huffman.Table) ([]byte, error) {
	for {
		sym, err := lTable.Decode(d.bits)
		if err != nil {
			return nil, err
		}
		if sym < 256 {
			out = append(out, byte(sym))
			continue
		}
		if sym == 256 {
			return out, nil
		}

		li := sym - 257
		if li < 0 || int(li) >= len(lBases) {
			return nil, huffman.ErrBadSymbol
		}
		length := lBases[li]
		if n := lExtras[li]; n > 0 {
			extra, err := d.bits.ReadBits(int(n))
			if err != nil {
				return nil, err
			}
			length += extra
		}

		dSym, err := dTable.Decode(d.bits)
		if err != nil {
			return nil, err
		}
		if int(dSym) >= len(dBases) {
			return nil, huffman.ErrBadSymbol
		}
		distance := dBases[dSym]
		if n := dExtras[dSym]; n > 0 {
			extra, err := d.bits.ReadBits(int(n))
			if err != nil {
				return nil, err
			}
			distance += extra
		}

		if int(distance) > len(out) {
			return nil, ErrBadDistance
		}
		start := len(out) - int(distance)
		for i := uint32(0); i < length; i++ {
			out = append(out, out[start+int(i)])
		}
	}
}
