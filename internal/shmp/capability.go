package shmp

// Representative CMD codes, spec.md §6.
const (
	CmdSerialAPIGetCapabilities       uint8 = 0x07
	CmdSerialAPIGetInitData           uint8 = 0x02
	CmdSerialAPISetup                 uint8 = 0x0B
	CmdZWSendData                     uint8 = 0x13
	CmdZWSendDataBridge               uint8 = 0xA9
	CmdZWAddNodeToNetwork             uint8 = 0x4A
	CmdZWRemoveNodeFromNetwork        uint8 = 0x4B
	CmdZWSetLearnMode                 uint8 = 0x50
	CmdApplicationCommandHandler      uint8 = 0x04
	CmdApplicationCommandHandlerBridge uint8 = 0xA8
	CmdZWApplicationUpdate            uint8 = 0x49
	CmdSerialAPIStarted               uint8 = 0x0A
	CmdZWGetRandom                    uint8 = 0x1C
	CmdMemoryGetId                    uint8 = 0x20
	CmdNVMBackupRestore               uint8 = 0x2E
)

// SERIALAPI_SETUP sub-commands, spec.md §6.
const (
	SetupSupported       uint8 = 0x01
	SetupTxPowerlevelSet  uint8 = 0x04
	SetupTxPowerlevelGet  uint8 = 0x08
	SetupMaxLRTxPwrSet    uint8 = 0x03
	SetupMaxLRTxPwrGet    uint8 = 0x05
	SetupRFRegionSet      uint8 = 0x40
	SetupRFRegionGet      uint8 = 0x20
	SetupNodeIdBasetypeSet uint8 = 0x80
)

// capabilityBitmap tracks a 29-byte (232-bit) function-supported bitmap
// advertised by the module (spec.md §4.C "Supported-command gating"),
// and a second bitmap for SERIALAPI_SETUP sub-commands.
type capabilityBitmap struct {
	functions [29]byte
	setupSubs [29]byte
}

func (c *capabilityBitmap) setFunctions(bitmap []byte) {
	n := copy(c.functions[:], bitmap)
	for i := n; i < len(c.functions); i++ {
		c.functions[i] = 0
	}
}

func (c *capabilityBitmap) setSetupSubs(bitmap []byte) {
	n := copy(c.setupSubs[:], bitmap)
	for i := n; i < len(c.setupSubs); i++ {
		c.setupSubs[i] = 0
	}
}

// supports reports whether cmd's bit is set in the function bitmap,
// following the Z-Wave Serial API convention that bit (FUNC_ID-1) of
// byte (FUNC_ID-1)/8 denotes support for FUNC_ID.
func (c *capabilityBitmap) supports(cmd uint8) bool {
	return bitSet(c.functions[:], cmd)
}

func (c *capabilityBitmap) supportsSetupSub(sub uint8) bool {
	return bitSet(c.setupSubs[:], sub)
}

func bitSet(bitmap []byte, funcID uint8) bool {
	idx := int(funcID-1) / 8
	bit := uint(funcID-1) % 8
	if idx < 0 || idx >= len(bitmap) {
		return false
	}
	return bitmap[idx]&(1<<bit) != 0
}

// Supports is a pure query exposed on the Dispatcher (spec.md §9: "wrap
// the check (supports(cmd)) as a pure query on the Dispatcher so that
// every call site is one expression, not a macro"). SERIAL_API_GET_CAPABILITIES
// is always considered supported: it is the bootstrap call that
// populates the bitmap in the first place, so gating it on its own
// result would make startup impossible.
func (d *Dispatcher) Supports(cmd uint8) bool {
	if cmd == CmdSerialAPIGetCapabilities {
		return true
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.caps.supports(cmd)
}

// SupportsSetup reports whether a SERIALAPI_SETUP sub-command is
// supported, consulted the same way as top-level commands.
func (d *Dispatcher) SupportsSetup(sub uint8) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.caps.supportsSetupSub(sub)
}
