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

// Package zip implements the ZIP local-file decode pipeline (Unzip) and a
// STORE/DEFLATE ZIP encoder (Zip), per PKWARE APPNOTE sections 4.3.7
// (local file header), 4.3.9 (data descriptor), 4.3.12 (central
// directory) and 4.3.16 (end of central directory). No Zip64 extension
// and no random access: archives are processed front-to-back with an
// optional central-directory postlude.
package zip

import "time"

const (
	localFileHeaderSig     = 0x04034b50 // "PK\x03\x04"
	dataDescriptorSig      = 0x08074b50 // "PK\x07\x08"
	centralDirectorySig    = 0x02014b50 // "PK\x01\x02"
	endOfCentralDirSig     = 0x06054b50 // "PK\x05\x06"
	archiveExtraDataSig    = 0x08064b50 // "PK\x06\x08"
	digitalSignatureRecSig = 0x05054b50 // "PK\x05\x05"
)

// Method is a ZIP compression method identifier.
type Method uint16

const (
	MethodStore   Method = 0
	MethodDeflate Method = 8
)

// Options configures optional strictness, per spec.md Open Question iii.
type Options struct {
	// StrictValidation checks the decompressed CRC-32 against the
	// recorded field and (for stored DEFLATE blocks) NLEN against LEN.
	// Off by default, matching the source's permissive behavior.
	StrictValidation bool
}

// CentralDirectoryEntry is one record recovered from the central
// directory postlude. This is a supplement (SPEC_FULL.md section 4): the
// core extract-event contract does not depend on it, but it gives callers
// a manifest without re-scanning the archive.
type CentralDirectoryEntry struct {
	Filename          string
	Method            Method
	CRC32             uint32
	CompressedSize    uint32
	UncompressedSize  uint32
	ExternalAttrs     uint32
	LocalHeaderOffset uint32
}

// FinishInfo is the metadata attached to Unzip's finish event.
type FinishInfo struct {
	Comment string
	Entries []CentralDirectoryEntry
}

// dosDateTime converts a Unix-milliseconds timestamp into the MS-DOS
// date/time pair ZIP local and central-directory headers store, per
// APPNOTE 4.4.6. DOS time has 2-second resolution.
func dosDateTime(modTimeMillis int64) (dosTime, dosDate uint16) {
	t := time.UnixMilli(modTimeMillis).UTC()
	year, month, day := t.Year(), int(t.Month()), t.Day()
	if year < 1980 {
		year = 1980
		month, day = 1, 1
	}
	dosTime = uint16(t.Hour()<<11 | t.Minute()<<5 | t.Second()/2)
	dosDate = uint16((year-1980)<<9 | month<<5 | day)
	return
}
