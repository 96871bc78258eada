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

package zip

import (
	"bytes"
	"compress/flate"

	"github.com/google/binpipe/crc32table"
)

// Zip is a minimal ZIP encoder: one call to AddFile per entry, then Close
// to write the central directory and end-of-central-directory record.
// Only STORE and DEFLATE are supported, matching Unzip's decode side.
//
// Unlike byteio.Buffer (spec.md's fixed-capacity writer, sized up front), a
// ZIP archive's final size depends on how well each entry compresses, so
// Zip accumulates its output in a plain growable bytes.Buffer instead.
type Zip struct {
	buf     bytes.Buffer
	offset  uint32
	entries []centralRecord
}

type centralRecord struct {
	name       string
	method     Method
	crc        uint32
	compSize   uint32
	uncompSize uint32
	offset     uint32
	dosTime    uint16
	dosDate    uint16
}

func putLE(buf *bytes.Buffer, v uint32, n int) {
	for i := 0; i < n; i++ {
		buf.WriteByte(byte(v >> uint(8*i)))
	}
}

// NewZip returns an empty Zip encoder.
func NewZip() *Zip {
	return &Zip{}
}

// AddFile writes one local-file-header record plus its (optionally
// compressed) payload, and records the bookkeeping needed for the central
// directory written by Close. modTimeMillis is Unix milliseconds, per
// spec.md's ZIP encoder signature.
func (z *Zip) AddFile(name string, data []byte, method Method, modTimeMillis int64) error {
	var payload []byte
	switch method {
	case MethodStore:
		payload = data
	case MethodDeflate:
		var out bytes.Buffer
		w, err := flate.NewWriter(&out, flate.BestCompression)
		if err != nil {
			return err
		}
		if _, err := w.Write(data); err != nil {
			return err
		}
		if err := w.Close(); err != nil {
			return err
		}
		payload = out.Bytes()
	default:
		return ErrUnsupportedMethod
	}

	crc := crc32table.Checksum(data)
	dosTime, dosDate := dosDateTime(modTimeMillis)
	localOffset := z.offset

	putLE(&z.buf, localFileHeaderSig, 4)
	putLE(&z.buf, 20, 2) // version needed: 2.0
	putLE(&z.buf, 0, 2)  // general purpose flag: no data descriptor
	putLE(&z.buf, uint32(method), 2)
	putLE(&z.buf, uint32(dosTime), 2)
	putLE(&z.buf, uint32(dosDate), 2)
	putLE(&z.buf, crc, 4)
	putLE(&z.buf, uint32(len(payload)), 4)
	putLE(&z.buf, uint32(len(data)), 4)
	putLE(&z.buf, uint32(len(name)), 2)
	putLE(&z.buf, 0, 2) // extra field length
	z.buf.WriteString(name)
	z.buf.Write(payload)

	z.offset += uint32(30 + len(name) + len(payload))

	z.entries = append(z.entries, centralRecord{
		name:       name,
		method:     method,
		crc:        crc,
		compSize:   uint32(len(payload)),
		uncompSize: uint32(len(data)),
		offset:     localOffset,
		dosTime:    dosTime,
		dosDate:    dosDate,
	})
	return nil
}

// Close writes the central directory and end-of-central-directory record
// and returns the complete archive bytes. comment, if non-empty, is
// written as the archive comment.
func (z *Zip) Close(comment string) []byte {
	cdStart := z.offset
	for _, e := range z.entries {
		putLE(&z.buf, centralDirectorySig, 4)
		putLE(&z.buf, 20, 2) // version made by
		putLE(&z.buf, 20, 2) // version needed
		putLE(&z.buf, 0, 2)  // gp flag
		putLE(&z.buf, uint32(e.method), 2)
		putLE(&z.buf, uint32(e.dosTime), 2)
		putLE(&z.buf, uint32(e.dosDate), 2)
		putLE(&z.buf, e.crc, 4)
		putLE(&z.buf, e.compSize, 4)
		putLE(&z.buf, e.uncompSize, 4)
		putLE(&z.buf, uint32(len(e.name)), 2)
		putLE(&z.buf, 0, 2) // extra field length
		putLE(&z.buf, 0, 2) // comment length
		putLE(&z.buf, 0, 2) // disk number start
		putLE(&z.buf, 0, 2) // internal attrs
		putLE(&z.buf, 0, 4) // external attrs
		putLE(&z.buf, e.offset, 4)
		z.buf.WriteString(e.name)

		z.offset += uint32(46 + len(e.name))
	}
	cdSize := z.offset - cdStart

	putLE(&z.buf, endOfCentralDirSig, 4)
	putLE(&z.buf, 0, 2) // disk number
	putLE(&z.buf, 0, 2) // CD start disk
	putLE(&z.buf, uint32(len(z.entries)), 2)
	putLE(&z.buf, uint32(len(z.entries)), 2)
	putLE(&z.buf, cdSize, 4)
	putLE(&z.buf, cdStart, 4)
	putLE(&z.buf, uint32(len(comment)), 2)
	z.buf.WriteString(comment)

	return z.buf.Bytes()
}
