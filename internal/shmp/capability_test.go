package shmp

import (
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/siliconlabs/zwave-ip-gateway/internal/metrics"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	framer := NewFramer(NewRing(8), io.Discard, zerolog.Nop())
	return NewDispatcher(framer, io.Discard, zerolog.Nop(), metrics.New())
}

func TestSupportsGetCapabilitiesAlwaysTrue(t *testing.T) {
	d := newTestDispatcher(t)
	require.True(t, d.Supports(CmdSerialAPIGetCapabilities), "the bootstrap capability probe must never gate on itself")
}

func TestSupportsFalseBeforeCapabilitiesKnown(t *testing.T) {
	d := newTestDispatcher(t)
	require.False(t, d.Supports(CmdZWSendData))
}

func TestSetCapabilitiesEnablesSupports(t *testing.T) {
	d := newTestDispatcher(t)

	bitmap := make([]byte, 29)
	bitSetBit := func(b []byte, funcID uint8) {
		idx := int(funcID-1) / 8
		bit := uint(funcID-1) % 8
		b[idx] |= 1 << bit
	}
	bitSetBit(bitmap, CmdZWSendData)

	d.SetCapabilities(bitmap, nil)
	require.True(t, d.Supports(CmdZWSendData))
	require.False(t, d.Supports(CmdZWAddNodeToNetwork))
}

func TestSetCapabilitiesSetupSubs(t *testing.T) {
	d := newTestDispatcher(t)

	subs := make([]byte, 29)
	subs[0] = SetupSupported
	d.SetCapabilities(nil, subs)

	require.True(t, d.SupportsSetup(SetupSupported))
	require.False(t, d.SupportsSetup(SetupRFRegionGet))
}
