package shmp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameEncodeDecodeRoundTrip(t *testing.T) {
	f := Frame{Type: TypeRequest, Cmd: CmdSerialAPIGetCapabilities, Data: []byte{1, 2, 3, 4}}

	wire, err := f.Encode()
	require.NoError(t, err)
	require.Equal(t, SOF, wire[0])

	got, err := DecodeBody(wire[1:])
	require.NoError(t, err)
	require.Equal(t, f.Type, got.Type)
	require.Equal(t, f.Cmd, got.Cmd)
	require.Equal(t, f.Data, got.Data)
}

func TestFrameEncodeRejectsOversizedPayload(t *testing.T) {
	f := Frame{Type: TypeRequest, Cmd: 1, Data: make([]byte, 252)}
	_, err := f.Encode()
	require.Error(t, err)
}

func TestDecodeBodyRejectsChecksumMismatch(t *testing.T) {
	f := Frame{Type: TypeResponse, Cmd: 5, Data: []byte{9, 9}}
	wire, err := f.Encode()
	require.NoError(t, err)

	body := append([]byte(nil), wire[1:]...)
	body[len(body)-1] ^= 0xFF // flip the checksum byte

	_, err = DecodeBody(body)
	require.Error(t, err)
}

func TestDecodeBodyRejectsShortBody(t *testing.T) {
	_, err := DecodeBody([]byte{1, 2})
	require.Error(t, err)
}

func TestDecodeBodyRejectsInvalidLen(t *testing.T) {
	_, err := DecodeBody([]byte{255, 0, 0, 0})
	require.Error(t, err)
}

func TestFrameTypeString(t *testing.T) {
	require.Equal(t, "REQUEST", TypeRequest.String())
	require.Equal(t, "RESPONSE", TypeResponse.String())
}
