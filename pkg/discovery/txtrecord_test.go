package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndpointTXTRoundTrip(t *testing.T) {
	info := &EndpointInfo{
		NodeID: "e6b2078c-46c3-4b75-a2b0-1e6a3ffab1cd",
		Topics: []string{"trades", "ticks", "depth"},
	}

	txt := EncodeEndpointTXT(info)
	assert.Equal(t, ProtocolVersion, txt[TXTKeyVersion])
	assert.Equal(t, info.NodeID, txt[TXTKeyNodeID])
	assert.Equal(t, "trades,ticks,depth", txt[TXTKeyTopics])

	decoded, err := DecodeEndpointTXT(txt)
	require.NoError(t, err)
	assert.Equal(t, info.NodeID, decoded.NodeID)
	assert.Equal(t, info.Topics, decoded.Topics)
	assert.Equal(t, ProtocolVersion, decoded.Version)
}

func TestEndpointTXTNoTopics(t *testing.T) {
	info := &EndpointInfo{NodeID: "node-1"}

	txt := EncodeEndpointTXT(info)
	_, hasTopics := txt[TXTKeyTopics]
	assert.False(t, hasTopics)

	decoded, err := DecodeEndpointTXT(txt)
	require.NoError(t, err)
	assert.Empty(t, decoded.Topics)
}

func TestDecodeEndpointTXTErrors(t *testing.T) {
	tests := []struct {
		name string
		txt  TXTRecordMap
		want error
	}{
		{
			name: "missing node id",
			txt:  TXTRecordMap{TXTKeyVersion: ProtocolVersion},
			want: ErrMissingRequired,
		},
		{
			name: "missing version",
			txt:  TXTRecordMap{TXTKeyNodeID: "node-1"},
			want: ErrMissingRequired,
		},
		{
			name: "unsupported version",
			txt:  TXTRecordMap{TXTKeyNodeID: "node-1", TXTKeyVersion: "99"},
			want: ErrInvalidTXTRecord,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeEndpointTXT(tt.txt)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestTXTRecordStringConversion(t *testing.T) {
	txt := TXTRecordMap{"ver": "1", "node": "abc", "topics": "a,b"}

	strs := TXTRecordsToStrings(txt)
	assert.Len(t, strs, 3)

	back := StringsToTXTRecords(strs)
	assert.Equal(t, txt, back)
}

func TestStringsToTXTRecordsSkipsMalformed(t *testing.T) {
	back := StringsToTXTRecords([]string{"ver=1", "garbage", "=empty-key", "node=abc"})
	assert.Equal(t, TXTRecordMap{"ver": "1", "node": "abc"}, back)
}

func TestShortNodeID(t *testing.T) {
	assert.Equal(t, "e6b2078c", shortNodeID("e6b2078c-46c3-4b75-a2b0-1e6a3ffab1cd"))
	assert.Equal(t, "short", shortNodeID("short"))
}
