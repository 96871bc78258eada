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

// Package crc32table computes the IEEE 802.3 CRC-32 used by ZIP and GZIP,
// via a table-driven, reflected implementation of the 0xEDB88320
// polynomial.
package crc32table

// polynomial is the reflected IEEE 802.3 CRC-32 polynomial.
const polynomial = 0xEDB88320

var table [256]uint32

func init() {
	for i := uint32(0); i < 256; i++ {
		c := i
		for j := 0; j < 8; j++ {
			if c&1 != 0 {
				c = polynomial ^ (c >> 1)
			} else {
				c = c >> 1
			}
		}
		table[i] = c
	}
}

// Update folds p into a running CRC-32, starting from 0 for a fresh
// checksum. The caller is responsible for the leading and trailing
// bitwise complement: Checksum does this automatically.
func Update(crc uint32, p []byte) uint32 {
	crc = ^crc
	for _, b := range p {
		crc = table[byte(crc)^b] ^ (crc >> 8)
	}
	return ^crc
}

// Checksum returns the CRC-32 of p.
func Checksum(p []byte) uint32 {
	return Update(0, p)
}
