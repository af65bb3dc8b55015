// Package device talks to the ESP32 ROM bootloader to change flash
// contents of a connected board.
package device

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/bigbag/parttool/internal/partition"
	"github.com/bigbag/parttool/internal/protocol"
)

// Timeouts for bootloader commands.
const (
	syncTimeout       = 500 * time.Millisecond
	commandTimeout    = 5 * time.Second
	eraseTimeoutPerMB = 30 * time.Second
	md5TimeoutPerMB   = 8 * time.Second
	syncAttempts      = 10
)

// ErrUnaligned is returned for regions the ROM cannot erase without touching
// neighbouring sectors.
var ErrUnaligned = errors.New("region is not sector aligned")

// Conn is the serial link to a board. *serial.Port implements it.
type Conn interface {
	Write(data []byte) (int, error)
	ReadWithTimeout(buf []byte, timeout time.Duration) (int, error)
	Flush() error
	ResetToBootloader() error
	HardReset() error
}

// ProgressCallback is called to report flash progress.
type ProgressCallback func(current, total int)

// Session drives the ROM bootloader over a Conn.
type Session struct {
	conn     Conn
	decoder  protocol.FrameDecoder
	pending  [][]byte
	progress ProgressCallback
	logger   log.Logger

	// extendedBegin is set once the chip answers GET_SECURITY_INFO, which
	// the classic ESP32 ROM lacks along with the longer FLASH_BEGIN.
	extendedBegin bool
}

// NewSession creates a Session for the given connection.
func NewSession(conn Conn, logger log.Logger) *Session {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Session{conn: conn, logger: logger}
}

// SetProgressCallback sets the progress callback function.
func (s *Session) SetProgressCallback(cb ProgressCallback) {
	s.progress = cb
}

func (s *Session) reportProgress(current, total int) {
	if s.progress != nil {
		s.progress(current, total)
	}
}

// Connect resets the board into the bootloader, syncs, identifies the chip
// and attaches flash.
func (s *Session) Connect() error {
	if err := s.conn.ResetToBootloader(); err != nil {
		return fmt.Errorf("failed to reset into bootloader: %w", err)
	}
	if err := s.Sync(); err != nil {
		return fmt.Errorf("failed to sync with bootloader: %w", err)
	}
	if info, err := s.ChipInfo(); err != nil {
		level.Debug(s.logger).Log("msg", "no security info, assuming classic ESP32", "err", err)
		s.extendedBegin = false
	} else {
		level.Debug(s.logger).Log("msg", "chip identified", "chip", protocol.ChipName(info.ChipID))
		s.extendedBegin = true
	}
	if err := s.command(protocol.NewRequest(protocol.CmdSpiAttach, protocol.SpiAttachData()), commandTimeout); err != nil {
		return fmt.Errorf("failed to attach SPI flash: %w", err)
	}
	return nil
}

// Sync establishes communication with the bootloader.
func (s *Session) Sync() error {
	req := protocol.NewRequest(protocol.CmdSync, protocol.SyncData())

	for attempt := 1; attempt <= syncAttempts; attempt++ {
		s.conn.Flush()
		s.decoder.Reset()
		s.pending = nil

		resp, err := s.roundTrip(req, syncTimeout)
		if err != nil {
			level.Debug(s.logger).Log("msg", "sync attempt failed", "attempt", attempt, "err", err)
			continue
		}
		if resp.IsSuccess() {
			// The ROM answers one SYNC with several replies.
			s.drain()
			return nil
		}
	}

	return fmt.Errorf("sync failed after %d attempts", syncAttempts)
}

// ChipInfo queries GET_SECURITY_INFO.
func (s *Session) ChipInfo() (*protocol.SecurityInfo, error) {
	resp, err := s.roundTrip(protocol.NewRequest(protocol.CmdGetSecurityInfo, nil), commandTimeout)
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("get security info failed: %s", resp.ErrorString())
	}
	return protocol.ParseSecurityInfo(resp.Data)
}

// ZeroRegion overwrites a partition's flash range with zero bytes. Offset
// and size must be whole sectors since the ROM erases by sector before
// writing.
func (s *Session) ZeroRegion(r partition.Region, verify bool) error {
	if r.Offset%protocol.FlashSectorSize != 0 || r.Size%protocol.FlashSectorSize != 0 {
		return fmt.Errorf("%w: %s at 0x%x size 0x%x", ErrUnaligned, r.Name, r.Offset, r.Size)
	}
	if r.Size == 0 {
		return nil
	}
	if r.End() > 1<<32 {
		return fmt.Errorf("%s ends at 0x%x, beyond the 32-bit flash address space", r.Name, r.End())
	}

	size := int(r.Size)
	address := uint32(r.Offset)
	numBlocks := protocol.CalculateFlashBlocks(size)

	begin := protocol.NewRequest(protocol.CmdFlashBegin,
		protocol.FlashBeginData(protocol.CalculateEraseSize(size), numBlocks, protocol.FlashBlockSize, address, s.extendedBegin))
	if err := s.command(begin, scaledTimeout(eraseTimeoutPerMB, size)); err != nil {
		return fmt.Errorf("flash begin failed: %w", err)
	}

	block := make([]byte, protocol.FlashBlockSize)
	total := int(numBlocks)
	for seq := 0; seq < total; seq++ {
		if err := s.command(protocol.NewFlashDataRequest(block, uint32(seq)), commandTimeout); err != nil {
			return fmt.Errorf("flash data block %d failed: %w", seq, err)
		}
		s.reportProgress(seq+1, total)
	}

	if err := s.command(protocol.NewRequest(protocol.CmdFlashEnd, protocol.FlashEndData(false)), commandTimeout); err != nil {
		return fmt.Errorf("flash end failed: %w", err)
	}

	if verify {
		if err := s.verifyZero(address, size); err != nil {
			return fmt.Errorf("verification failed: %w", err)
		}
	}

	return nil
}

// verifyZero compares the device MD5 of the range with that of zeros.
func (s *Session) verifyZero(address uint32, size int) error {
	h := md5.New()
	zeros := make([]byte, protocol.FlashSectorSize)
	for n := size; n > 0; n -= len(zeros) {
		h.Write(zeros[:min(n, len(zeros))])
	}
	expected := hex.EncodeToString(h.Sum(nil))

	req := protocol.NewRequest(protocol.CmdSpiFlashMD5, protocol.FlashMD5Data(address, uint32(size)))
	resp, err := s.roundTrip(req, scaledTimeout(md5TimeoutPerMB, size))
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("MD5 command failed: %s", resp.ErrorString())
	}

	// ROM replies with the digest as 32 ASCII hex characters.
	actual := string(resp.Data)
	if len(actual) >= 32 {
		actual = actual[:32]
	}
	if actual != expected {
		return fmt.Errorf("MD5 mismatch: expected %s, got %s", expected, actual)
	}
	return nil
}

// Reboot leaves the bootloader and restarts the application.
func (s *Session) Reboot() error {
	req := protocol.NewRequest(protocol.CmdFlashEnd, protocol.FlashEndData(true))
	if _, err := s.conn.Write(protocol.EncodeFrame(req.Encode())); err != nil {
		return err
	}

	time.Sleep(100 * time.Millisecond)
	return s.conn.HardReset()
}

// command sends req and fails unless the bootloader acknowledges it.
func (s *Session) command(req *protocol.Request, timeout time.Duration) error {
	resp, err := s.roundTrip(req, timeout)
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("command 0x%02X failed: %s", req.Command, resp.ErrorString())
	}
	return nil
}

func (s *Session) roundTrip(req *protocol.Request, timeout time.Duration) (*protocol.Response, error) {
	if _, err := s.conn.Write(protocol.EncodeFrame(req.Encode())); err != nil {
		return nil, err
	}
	return s.readResponse(req.Command, timeout)
}

// readResponse waits for the response to cmd, skipping stale replies.
func (s *Session) readResponse(cmd byte, timeout time.Duration) (*protocol.Response, error) {
	deadline := time.Now().Add(timeout)
	chunk := make([]byte, 256)

	for {
		for len(s.pending) > 0 {
			packet := s.pending[0]
			s.pending = s.pending[1:]

			resp, err := protocol.DecodeResponse(packet)
			if err != nil {
				level.Debug(s.logger).Log("msg", "dropping malformed packet", "err", err)
				continue
			}
			if resp.Command == cmd {
				return resp, nil
			}
		}

		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("timeout waiting for response to command 0x%02X", cmd)
		}

		n, err := s.conn.ReadWithTimeout(chunk, 100*time.Millisecond)
		if n > 0 {
			s.pending = append(s.pending, s.decoder.Feed(chunk[:n])...)
		}
		if err != nil && n == 0 {
			return nil, err
		}
	}
}

// drain discards input until the line goes quiet.
func (s *Session) drain() {
	chunk := make([]byte, 256)
	for i := 0; i < 16; i++ {
		n, err := s.conn.ReadWithTimeout(chunk, 100*time.Millisecond)
		if n == 0 || err != nil {
			break
		}
	}
	s.decoder.Reset()
	s.pending = nil
}

func scaledTimeout(perMB time.Duration, size int) time.Duration {
	t := time.Duration(float64(perMB) * float64(size) / (1024 * 1024))
	return max(t, commandTimeout)
}
