package zip

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingReceiver struct {
	calls  int
	result bool
}

func (r *recordingReceiver) Receive(nodeId uint16, endpoint uint8, payload []byte) bool {
	r.calls++
	return r.result
}

func TestDispatchRunsClassHandlerThenFirehose(t *testing.T) {
	reg := NewHandlerRegistry()
	class := &recordingReceiver{result: true}
	firehose := &recordingReceiver{result: true}

	reg.RegisterClassHandler(0x25, class)
	reg.RegisterFirehose(firehose)

	reg.Dispatch(0x25, 5, 0, []byte{1})

	require.Equal(t, 1, class.calls)
	require.Equal(t, 1, firehose.calls)
}

func TestDispatchStopsWhenClassHandlerReturnsFalse(t *testing.T) {
	reg := NewHandlerRegistry()
	class := &recordingReceiver{result: false}
	firehose := &recordingReceiver{result: true}

	reg.RegisterClassHandler(0x25, class)
	reg.RegisterFirehose(firehose)

	reg.Dispatch(0x25, 5, 0, []byte{1})

	require.Equal(t, 1, class.calls)
	require.Equal(t, 0, firehose.calls, "firehose must not run once the class handler short-circuits")
}

func TestRegisterFirehoseDeduplicates(t *testing.T) {
	reg := NewHandlerRegistry()
	h := &recordingReceiver{result: true}

	reg.RegisterFirehose(h)
	reg.RegisterFirehose(h)

	require.Len(t, reg.firehose, 1)
}

func TestDeregisterRemovesFromBothMaps(t *testing.T) {
	reg := NewHandlerRegistry()
	h := &recordingReceiver{result: true}

	reg.RegisterClassHandler(0x25, h)
	reg.RegisterFirehose(h)
	reg.Deregister(h)

	reg.Dispatch(0x25, 5, 0, []byte{1})
	require.Equal(t, 0, h.calls)
}
