package ctrl

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// decodeAll feeds the whole input at once and pops every complete
// response.
func decodeAll(t *testing.T, input string) []*Response {
	t.Helper()
	dec := NewDecoder()
	dec.Feed([]byte(input))

	var responses []*Response
	for {
		resp, ok, err := dec.Next()
		require.NoError(t, err)
		if !ok {
			return responses
		}
		responses = append(responses, resp)
	}
}

func TestDecodeOK(t *testing.T) {
	responses := decodeAll(t, "OK\n")
	require.Len(t, responses, 1)
	assert.Equal(t, KindOK, responses[0].Kind)
}

func TestDecodeValue(t *testing.T) {
	responses := decodeAll(t, "OK =100\n")
	require.Len(t, responses, 1)
	assert.Equal(t, KindValue, responses[0].Kind)
	assert.Equal(t, "100", responses[0].Value)
}

func TestDecodeValueEmpty(t *testing.T) {
	responses := decodeAll(t, "OK =\n")
	require.Len(t, responses, 1)
	assert.Equal(t, KindValue, responses[0].Kind)
	assert.Equal(t, "", responses[0].Value)
}

func TestDecodeValueWithSpaces(t *testing.T) {
	// Values may contain anything after the marker, including spaces
	// and "=" characters
	responses := decodeAll(t, "OK =PandA SW: 3.0 FPGA: 2.0\n")
	require.Len(t, responses, 1)
	assert.Equal(t, "PandA SW: 3.0 FPGA: 2.0", responses[0].Value)
}

func TestDecodeErr(t *testing.T) {
	responses := decodeAll(t, "ERR No such field\n")
	require.Len(t, responses, 1)
	assert.Equal(t, KindErr, responses[0].Kind)
	assert.Equal(t, "No such field", responses[0].Message)
	assert.True(t, responses[0].IsErr())
}

func TestDecodeMulti(t *testing.T) {
	responses := decodeAll(t, "!TTLIN 6\n!PCAP 1\n.\n")
	require.Len(t, responses, 1)
	assert.Equal(t, KindMulti, responses[0].Kind)
	assert.Equal(t, []string{"TTLIN 6", "PCAP 1"}, responses[0].Lines)
}

func TestDecodeMultiEmpty(t *testing.T) {
	// An empty table is just the sentinel
	responses := decodeAll(t, ".\n")
	require.Len(t, responses, 1)
	assert.Equal(t, KindMulti, responses[0].Kind)
	assert.Empty(t, responses[0].Lines)
	assert.NotNil(t, responses[0].Lines)
}

func TestDecodeMultiEmptyLine(t *testing.T) {
	// "!" alone carries an empty line, distinct from the sentinel
	responses := decodeAll(t, "!\n!second\n.\n")
	require.Len(t, responses, 1)
	assert.Equal(t, []string{"", "second"}, responses[0].Lines)
}

func TestDecodeSequence(t *testing.T) {
	responses := decodeAll(t, "OK\nOK =5\n!a\n!b\n.\nERR bad\n")
	require.Len(t, responses, 4)
	assert.Equal(t, KindOK, responses[0].Kind)
	assert.Equal(t, "5", responses[1].Value)
	assert.Equal(t, []string{"a", "b"}, responses[2].Lines)
	assert.Equal(t, "bad", responses[3].Message)
}

func TestDecodeIncomplete(t *testing.T) {
	dec := NewDecoder()
	dec.Feed([]byte("OK =10"))

	resp, ok, err := dec.Next()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, resp)

	dec.Feed([]byte("0\n"))
	resp, ok, err = dec.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "100", resp.Value)
}

func TestDecodeFragmentation(t *testing.T) {
	// Byte-by-byte delivery must produce the same responses as a single
	// feed, for any split
	input := "OK\nOK =value with spaces\n!line one\n!line two\n.\nERR something failed\n"
	want := decodeAll(t, input)

	dec := NewDecoder()
	var got []*Response
	for i := 0; i < len(input); i++ {
		dec.Feed([]byte{input[i]})
		for {
			resp, ok, err := dec.Next()
			require.NoError(t, err)
			if !ok {
				break
			}
			got = append(got, resp)
		}
	}
	require.Equal(t, want, got)
	assert.Zero(t, dec.Buffered())
}

func TestDecodeUnparseableLine(t *testing.T) {
	dec := NewDecoder()
	dec.Feed([]byte("WAT\n"))

	_, _, err := dec.Next()
	require.Error(t, err)

	var perr *ProtocolError
	require.True(t, errors.As(err, &perr))
	assert.True(t, perr.ShouldCloseConnection())
	assert.Contains(t, perr.Error(), "WAT")
}

func TestDecodeInterruptedMulti(t *testing.T) {
	dec := NewDecoder()
	dec.Feed([]byte("!first\nOK\n"))

	_, _, err := dec.Next()
	require.Error(t, err)

	var perr *ProtocolError
	require.True(t, errors.As(err, &perr))
	assert.Contains(t, perr.Detail, "interrupted")
}

func TestDecodeMultiNotReuseSlice(t *testing.T) {
	// A popped multi response must not alias the decoder's internal
	// accumulation slice
	dec := NewDecoder()
	dec.Feed([]byte("!a\n.\n!b\n.\n"))

	first, ok, err := dec.Next()
	require.NoError(t, err)
	require.True(t, ok)

	second, ok, err := dec.Next()
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, []string{"a"}, first.Lines)
	assert.Equal(t, []string{"b"}, second.Lines)
}
