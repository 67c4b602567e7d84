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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeNVPairsRoundTrip(t *testing.T) {
	pairs := []NVPair{
		{Name: "HTTP_HOST", Value: "example.com"},
		{Name: "QUERY_STRING", Value: ""},
		{Name: "REQUEST_METHOD", Value: "GET"},
	}

	encoded := encodeNVPairs(pairs, nil)
	decoded := decodeNVPairs(encoded, nil)
	require.Equal(t, pairs, decoded)
}

func TestEncodeNVPairsUsesFourByteLengthAboveThreshold(t *testing.T) {
	longName := strings.Repeat("A", 200)
	pairs := []NVPair{{Name: longName, Value: "v"}}

	encoded := encodeNVPairs(pairs, nil)
	// first byte of the name length field must have the high bit set
	require.True(t, encoded[0]&0x80 != 0)

	decoded := decodeNVPairs(encoded, nil)
	require.Equal(t, pairs, decoded)
}

func TestDecodeNVPairsDropsTruncatedTrailingEntry(t *testing.T) {
	whole := encodeNVPairs([]NVPair{
		{Name: "HTTP_HOST", Value: "example.com"},
		{Name: "HTTP_ACCEPT", Value: "*/*"},
	}, nil)

	// Simulate a Params record split mid-pair: chop off the last few bytes.
	truncated := whole[:len(whole)-3]

	decoded := decodeNVPairs(truncated, nil)
	assert.Equal(t, []NVPair{{Name: "HTTP_HOST", Value: "example.com"}}, decoded)
}

func TestDecodeNVPairsEmptyInput(t *testing.T) {
	assert.Nil(t, decodeNVPairs(nil, nil))
}

func TestReadWriteLengthSymmetry(t *testing.T) {
	for _, n := range []int{0, 1, 127, 128, 129, 65535, 1 << 20} {
		var buf bytes.Buffer
		writeLength(&buf, n)
		got, consumed, ok := readLength(buf.Bytes())
		require.True(t, ok)
		assert.Equal(t, n, got)
		assert.Equal(t, buf.Len(), consumed)
	}
}
