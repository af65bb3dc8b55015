package device

import (
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigbag/parttool/internal/partition"
	"github.com/bigbag/parttool/internal/protocol"
)

// fakeROM answers bootloader commands and keeps a flash image in memory.
type fakeROM struct {
	flash    []byte
	decoder  protocol.FrameDecoder
	out      []byte
	requests []*protocol.Request

	writeAddr uint32
	failCmd   byte
	badMD5    bool
	chipID    uint32
	resets    int
	hardReset bool
}

func newFakeROM(size int) *fakeROM {
	flash := make([]byte, size)
	for i := range flash {
		flash[i] = 0xA5
	}
	return &fakeROM{flash: flash, chipID: protocol.ChipIDESP32C3}
}

func (f *fakeROM) Write(data []byte) (int, error) {
	for _, packet := range f.decoder.Feed(data) {
		req, err := protocol.DecodeRequest(packet)
		if err != nil {
			return 0, err
		}
		f.requests = append(f.requests, req)
		f.reply(f.handle(req))
	}
	return len(data), nil
}

func (f *fakeROM) handle(req *protocol.Request) *protocol.Response {
	resp := &protocol.Response{Command: req.Command}
	if req.Command == f.failCmd {
		resp.Status, resp.Error = 1, protocol.ErrFailedToAct
		return resp
	}

	switch req.Command {
	case protocol.CmdFlashBegin:
		eraseSize := binary.LittleEndian.Uint32(req.Data[0:4])
		f.writeAddr = binary.LittleEndian.Uint32(req.Data[12:16])
		for i := uint32(0); i < eraseSize; i++ {
			f.flash[f.writeAddr+i] = 0xFF
		}
	case protocol.CmdFlashData:
		if protocol.Checksum(req.Data[16:]) != req.Checksum {
			resp.Status, resp.Error = 1, protocol.ErrInvalidCRC
			return resp
		}
		seq := binary.LittleEndian.Uint32(req.Data[4:8])
		copy(f.flash[f.writeAddr+seq*protocol.FlashBlockSize:], req.Data[16:])
	case protocol.CmdSpiFlashMD5:
		addr := binary.LittleEndian.Uint32(req.Data[0:4])
		size := binary.LittleEndian.Uint32(req.Data[4:8])
		sum := md5.Sum(f.flash[addr : addr+size])
		if f.badMD5 {
			sum[0] ^= 0xFF
		}
		resp.Data = []byte(hex.EncodeToString(sum[:]))
	case protocol.CmdGetSecurityInfo:
		resp.Data = make([]byte, 20)
		binary.LittleEndian.PutUint32(resp.Data[12:16], f.chipID)
	}
	return resp
}

func (f *fakeROM) reply(resp *protocol.Response) {
	f.out = append(f.out, protocol.EncodeFrame(resp.Encode())...)
}

func (f *fakeROM) ReadWithTimeout(buf []byte, _ time.Duration) (int, error) {
	n := copy(buf, f.out)
	f.out = f.out[n:]
	return n, nil
}

func (f *fakeROM) Flush() error {
	f.out = nil
	return nil
}

func (f *fakeROM) ResetToBootloader() error {
	f.resets++
	// Boot banner noise ahead of any framed reply.
	f.out = append(f.out, []byte("ESP-ROM:esp32c3-api1-20210207\r\n")...)
	return nil
}

func (f *fakeROM) HardReset() error {
	f.hardReset = true
	return nil
}

// request returns the first request sent with cmd.
func (f *fakeROM) request(cmd byte) *protocol.Request {
	for _, r := range f.requests {
		if r.Command == cmd {
			return r
		}
	}
	return nil
}

func (f *fakeROM) commands() []byte {
	cmds := make([]byte, 0, len(f.requests))
	for _, r := range f.requests {
		cmds = append(cmds, r.Command)
	}
	return cmds
}

func TestSession_Connect(t *testing.T) {
	rom := newFakeROM(0x1000)
	s := NewSession(rom, nil)

	require.NoError(t, s.Connect())
	assert.Equal(t, 1, rom.resets)
	assert.Equal(t, []byte{protocol.CmdSync, protocol.CmdGetSecurityInfo, protocol.CmdSpiAttach}, rom.commands())
}

func TestSession_Connect_ClassicESP32(t *testing.T) {
	rom := newFakeROM(0x10000)
	rom.failCmd = protocol.CmdGetSecurityInfo
	s := NewSession(rom, nil)
	require.NoError(t, s.Connect())

	require.NoError(t, s.ZeroRegion(partition.Region{Name: "nvs", Offset: 0x9000, Size: 0x1000}, false))
	begin := rom.request(protocol.CmdFlashBegin)
	require.NotNil(t, begin)
	assert.Len(t, begin.Data, 16)
}

func TestSession_ZeroRegion(t *testing.T) {
	rom := newFakeROM(0x80000)
	s := NewSession(rom, nil)
	require.NoError(t, s.Connect())

	var last, total int
	s.SetProgressCallback(func(current, n int) {
		last, total = current, n
	})

	region := partition.Region{Name: "nvs", Offset: 0x73000, Size: 0x3000}
	require.NoError(t, s.ZeroRegion(region, true))

	assert.Equal(t, 12, last)
	assert.Equal(t, 12, total)
	for i, b := range rom.flash {
		inside := uint64(i) >= region.Offset && uint64(i) < region.End()
		if inside && b != 0 {
			t.Fatalf("flash[0x%X] = 0x%02X, want 0", i, b)
		}
		if !inside && b != 0xA5 {
			t.Fatalf("flash[0x%X] = 0x%02X outside region changed", i, b)
		}
	}

	cmds := rom.commands()
	assert.Equal(t, byte(protocol.CmdFlashBegin), cmds[3])
	assert.Len(t, rom.request(protocol.CmdFlashBegin).Data, 20)
	assert.Equal(t, byte(protocol.CmdFlashEnd), cmds[len(cmds)-2])
	assert.Equal(t, byte(protocol.CmdSpiFlashMD5), cmds[len(cmds)-1])
}

const generatedTable = `#Name,Type,SubType,Offset,Size,Flags
app,app,factory,0x10000,0x60000,
coredump,data,coredump,,0x10000,
nvs,data,nvs,,0x3000,
littlefs,data,undefined,,0x37c000,
`

func TestSession_ZeroRegion_LocatedPartition(t *testing.T) {
	table, err := partition.Parse(strings.NewReader(generatedTable))
	require.NoError(t, err)

	tests := []struct {
		name    string
		address uint32
		size    int
	}{
		{"app", 0x10000, 0x60000},
		{"nvs", 0x80000, 0x3000},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rom := newFakeROM(0x100000)
			s := NewSession(rom, nil)
			require.NoError(t, s.Connect())

			region, err := table.Locate(tc.name)
			require.NoError(t, err)
			require.NoError(t, s.ZeroRegion(region, true))

			begin := rom.request(protocol.CmdFlashBegin)
			require.NotNil(t, begin)
			assert.Equal(t, tc.address, binary.LittleEndian.Uint32(begin.Data[12:16]))

			end := int(tc.address) + tc.size
			assert.Equal(t, make([]byte, tc.size), rom.flash[tc.address:end])
			assert.Equal(t, byte(0xA5), rom.flash[0x0], "bootloader")
			assert.Equal(t, byte(0xA5), rom.flash[partition.TableAddress], "partition table")
			assert.Equal(t, byte(0xA5), rom.flash[tc.address-1])
			assert.Equal(t, byte(0xA5), rom.flash[end])
		})
	}
}

func TestSession_ZeroRegion_Unaligned(t *testing.T) {
	rom := newFakeROM(0x10000)
	s := NewSession(rom, nil)

	err := s.ZeroRegion(partition.Region{Name: "odd", Offset: 0x1800, Size: 0x1000}, false)
	assert.ErrorIs(t, err, ErrUnaligned)

	err = s.ZeroRegion(partition.Region{Name: "odd", Offset: 0x1000, Size: 0x10}, false)
	assert.ErrorIs(t, err, ErrUnaligned)
	assert.Empty(t, rom.requests)
}

func TestSession_ZeroRegion_CommandFailure(t *testing.T) {
	rom := newFakeROM(0x10000)
	rom.failCmd = protocol.CmdFlashBegin
	s := NewSession(rom, nil)

	err := s.ZeroRegion(partition.Region{Name: "nvs", Offset: 0x9000, Size: 0x1000}, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flash begin failed")
	assert.Contains(t, err.Error(), "failed to act")
}

func TestSession_ZeroRegion_VerifyMismatch(t *testing.T) {
	rom := newFakeROM(0x10000)
	rom.badMD5 = true
	s := NewSession(rom, nil)

	err := s.ZeroRegion(partition.Region{Name: "nvs", Offset: 0x9000, Size: 0x1000}, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MD5 mismatch")
}

func TestSession_Reboot(t *testing.T) {
	rom := newFakeROM(0x1000)
	s := NewSession(rom, nil)

	require.NoError(t, s.Reboot())
	assert.True(t, rom.hardReset)
	require.Len(t, rom.requests, 1)
	assert.Equal(t, protocol.FlashEndData(true), rom.requests[0].Data)
}

func TestProbe(t *testing.T) {
	rom := newFakeROM(0x1000)

	info, err := Probe(rom, "/dev/ttyACM0", nil)
	require.NoError(t, err)
	assert.Equal(t, &Info{Port: "/dev/ttyACM0", ChipID: protocol.ChipIDESP32C3, ChipName: "ESP32-C3"}, info)
}

func TestProbe_NoChipID(t *testing.T) {
	rom := newFakeROM(0x1000)
	rom.failCmd = protocol.CmdGetSecurityInfo

	info, err := Probe(rom, "COM3", nil)
	require.NoError(t, err)
	assert.Equal(t, "ESP32 (unknown variant)", info.ChipName)
}

type deadConn struct{ fakeROM }

func (d *deadConn) ReadWithTimeout([]byte, time.Duration) (int, error) {
	return 0, errors.New("device disconnected")
}

func TestSession_SyncFails(t *testing.T) {
	s := NewSession(&deadConn{}, nil)
	err := s.Sync()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sync failed after 10 attempts")
}
