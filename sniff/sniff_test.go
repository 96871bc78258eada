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

package sniff

import "testing"

func TestSniffKnownFormats(t *testing.T) {
	s := New()
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"zip", []byte("PK\x03\x04rest-of-file"), "application/zip"},
		{"zip-spanned", []byte("PK\x07\x08rest-of-file"), "application/zip"},
		{"gzip", []byte("\x1F\x8Bblahblahblah"), "application/gzip"},
		{"png", []byte("\x89PNG\x0D\x0A\x1A\x0Arest"), "image/png"},
		{"gif87a", []byte("GIF87arest"), "image/gif"},
		{"gif89a", []byte("GIF89arest"), "image/gif"},
		{"jpeg", []byte("\xFF\xD8\xFFrest"), "image/jpeg"},
		{"webp", []byte("RIFF\x00\x00\x00\x00WEBPrest"), "image/webp"},
		{"pdf", []byte("%PDF-1.7"), "application/pdf"},
	}
	for _, tc := range tests {
		got, ok := s.Sniff(tc.data)
		if !ok || got != tc.want {
			t.Errorf("%s: Sniff(%q) = %q, %v; want %q, true", tc.name, tc.data, got, ok, tc.want)
		}
	}
}

func TestSniffUnknown(t *testing.T) {
	s := New()
	if _, ok := s.Sniff([]byte("not a known format at all")); ok {
		t.Error("expected no match")
	}
}

func TestSniffWebpRequiresWildcardMatchOnAnyFourBytes(t *testing.T) {
	s := New()
	got, ok := s.Sniff([]byte("RIFF\xDE\xAD\xBE\xEFWEBP"))
	if !ok || got != "image/webp" {
		t.Errorf("got %q, %v; want image/webp, true", got, ok)
	}
}
