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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeHeaderRoundTrip(t *testing.T) {
	tests := []struct {
		name          string
		recType       RecordType
		requestID     uint16
		contentLength int
	}{
		{"begin request", TypeBeginRequest, 1, 8},
		{"zero content", TypeParams, 1, 0},
		{"management record", TypeGetValues, 0, 42},
		{"max content length", TypeStdout, 65535, 65535},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hb := encodeHeader(tt.recType, tt.requestID, tt.contentLength)
			dh, err := decodeHeader(hb[:])
			require.NoError(t, err)
			assert.Equal(t, uint8(tt.recType), dh.typeCode)
			assert.Equal(t, tt.requestID, dh.requestID)
			assert.Equal(t, uint16(tt.contentLength), dh.contentLength)
		})
	}
}

func TestDecodeHeaderUnknownVersion(t *testing.T) {
	hb := encodeHeader(TypeStdout, 1, 0)
	hb[0] = 2 // corrupt version byte

	_, err := decodeHeader(hb[:])
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownVersion))
}

func TestDecodeHeaderShortInput(t *testing.T) {
	_, err := decodeHeader([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestRecordTypeString(t *testing.T) {
	assert.Equal(t, "BeginRequest", TypeBeginRequest.String())
	assert.Equal(t, "UnknownType", TypeUnknownType.String())
	assert.Equal(t, "other(85)", RecordType(0x55).String())
}

func TestRecordTypeKnown(t *testing.T) {
	assert.True(t, TypeBeginRequest.known())
	assert.True(t, TypeUnknownType.known())
	assert.False(t, RecordType(0x55).known())
	assert.False(t, RecordType(0).known())
}

func TestIsManagement(t *testing.T) {
	mgmt := &Record{RequestID: 0}
	assert.True(t, mgmt.IsManagement())

	req := &Record{RequestID: 1}
	assert.False(t, req.IsManagement())
}
