package shmp

import (
	"io"

	"github.com/jacobsa/go-serial/serial"
)

// OpenSerial opens the UART device at path at the given baud rate,
// 8N1, no flow control, per spec.md §6. Adapted directly from the
// teacher's NewSerialPHY.
func OpenSerial(path string, baud uint) (io.ReadWriteCloser, error) {
	opts := serial.OpenOptions{
		PortName:              path,
		BaudRate:              baud,
		DataBits:              8,
		StopBits:              1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
		MinimumReadSize:       1,
	}
	return serial.Open(opts)
}

// PumpReader continuously reads from phy into ring until phy.Read
// errors or stop is closed, mirroring the teacher's npiPhyReader
// goroutine's role feeding the ring one read() burst at a time.
func PumpReader(phy io.Reader, ring *Ring, stop <-chan struct{}) error {
	buf := make([]byte, 4096)
	for {
		select {
		case <-stop:
			return nil
		default:
		}
		n, err := phy.Read(buf)
		if n > 0 {
			ring.PutBuf(buf[:n])
		}
		if err != nil {
			return err
		}
	}
}
