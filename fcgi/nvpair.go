// Copyright 2015 Matthew Holt and The Caddy Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package fcgi

import (
	"bytes"
	"encoding/binary"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
)

// NVPair is a decoded FastCGI name-value pair (FastCGI 1.0 §3.4).
type NVPair struct {
	Name  string
	Value string
}

// utf8Codec is the default VariableEncoding: a no-op transcoder, since
// Go strings are UTF-8 already.
var utf8Codec encoding.Encoding = unicode.UTF8

// readLength decodes one length field at b[0:]. The high bit of the
// first byte selects the 1-byte (7-bit value) or 4-byte (31-bit value,
// big-endian) form. It returns the decoded length and how many bytes it
// consumed, or ok=false if b is too short to contain the form it starts.
func readLength(b []byte) (length int, consumed int, ok bool) {
	if len(b) < 1 {
		return 0, 0, false
	}
	if b[0]&0x80 == 0 {
		return int(b[0]), 1, true
	}
	if len(b) < 4 {
		return 0, 0, false
	}
	v := binary.BigEndian.Uint32(b[0:4]) & 0x7fffffff
	return int(v), 4, true
}

// writeLength appends the length-encoded form of n to buf: 1 byte when
// n < 128, otherwise 4 bytes with the top bit of the first byte set.
// This must stay symmetric with readLength.
func writeLength(buf *bytes.Buffer, n int) {
	if n < 128 {
		buf.WriteByte(byte(n))
		return
	}
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(n)|0x80000000)
	buf.Write(b[:])
}

// decodeNVPairs decodes as many well-formed (name, value) tuples as b
// holds. A truncated trailing entry -- one whose declared lengths run
// past the end of b -- is silently dropped rather than treated as an
// error: upstream servers occasionally split a Params record mid-pair
// across record boundaries before the buffer has fully accumulated, and
// the real terminator is the empty Params record, not byte-exactness of
// any one fragment. Already-decoded pairs are always retained.
func decodeNVPairs(b []byte, enc encoding.Encoding) []NVPair {
	if enc == nil {
		enc = utf8Codec
	}
	decoder := enc.NewDecoder()

	var pairs []NVPair
	for len(b) > 0 {
		nameLen, n1, ok := readLength(b)
		if !ok {
			break
		}
		b = b[n1:]

		valueLen, n2, ok := readLength(b)
		if !ok {
			break
		}
		b = b[n2:]

		if len(b) < nameLen+valueLen {
			break
		}
		nameBytes := b[:nameLen]
		valueBytes := b[nameLen : nameLen+valueLen]
		b = b[nameLen+valueLen:]

		name, err := decoder.Bytes(nameBytes)
		if err != nil {
			name = nameBytes
		}
		value, err := decoder.Bytes(valueBytes)
		if err != nil {
			value = valueBytes
		}
		pairs = append(pairs, NVPair{Name: string(name), Value: string(value)})
	}
	return pairs
}

// encodeNVPairs encodes pairs in FastCGI name-value form, symmetric with
// decodeNVPairs for any sequence decodeNVPairs can itself produce.
func encodeNVPairs(pairs []NVPair, enc encoding.Encoding) []byte {
	if enc == nil {
		enc = utf8Codec
	}
	encoder := enc.NewEncoder()

	var buf bytes.Buffer
	for _, p := range pairs {
		nameBytes, err := encoder.Bytes([]byte(p.Name))
		if err != nil {
			nameBytes = []byte(p.Name)
		}
		valueBytes, err := encoder.Bytes([]byte(p.Value))
		if err != nil {
			valueBytes = []byte(p.Value)
		}
		writeLength(&buf, len(nameBytes))
		writeLength(&buf, len(valueBytes))
		buf.Write(nameBytes)
		buf.Write(valueBytes)
	}
	return buf.Bytes()
}
