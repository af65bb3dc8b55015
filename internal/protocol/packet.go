package protocol

import (
	"encoding/binary"
	"fmt"
)

const headerSize = 8

// checksumSeed is the initial value of the XOR checksum.
const checksumSeed = 0xEF

// Request represents an ESP32 bootloader request packet.
type Request struct {
	Command  byte
	Data     []byte
	Checksum uint32
}

// Response represents an ESP32 bootloader response packet.
type Response struct {
	Command byte
	Data    []byte
	Value   uint32
	Status  byte
	Error   byte
}

// NewRequest creates a request for a command that carries no checksum.
func NewRequest(cmd byte, data []byte) *Request {
	return &Request{Command: cmd, Data: data}
}

// NewFlashDataRequest creates a FLASH_DATA request for one block. The
// checksum covers the block only, not the 16-byte header in front of it.
func NewFlashDataRequest(block []byte, seq uint32) *Request {
	data := FlashDataData(block, seq)
	return &Request{
		Command:  CmdFlashData,
		Data:     data,
		Checksum: Checksum(data[16:]),
	}
}

// Checksum is the XOR of all bytes seeded with 0xEF.
func Checksum(data []byte) uint32 {
	var checksum byte = checksumSeed
	for _, b := range data {
		checksum ^= b
	}
	return uint32(checksum)
}

// Encode serializes the request to bytes (before SLIP encoding).
func (r *Request) Encode() []byte {
	// 0: direction, 1: command, 2-3: data size, 4-7: checksum, 8+: data
	packet := make([]byte, headerSize+len(r.Data))

	packet[0] = DirRequest
	packet[1] = r.Command
	binary.LittleEndian.PutUint16(packet[2:4], uint16(len(r.Data)))
	binary.LittleEndian.PutUint32(packet[4:8], r.Checksum)
	copy(packet[headerSize:], r.Data)

	return packet
}

// DecodeRequest parses a request packet. It is the inverse of Encode.
func DecodeRequest(data []byte) (*Request, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("request too short: %d bytes", len(data))
	}
	if data[0] != DirRequest {
		return nil, fmt.Errorf("invalid direction byte: 0x%02X", data[0])
	}
	size := int(binary.LittleEndian.Uint16(data[2:4]))
	if size > len(data)-headerSize {
		return nil, fmt.Errorf("data size mismatch: expected %d, have %d", size, len(data)-headerSize)
	}
	return &Request{
		Command:  data[1],
		Checksum: binary.LittleEndian.Uint32(data[4:8]),
		Data:     data[headerSize : headerSize+size],
	}, nil
}

// Encode serializes the response with ROM-length status bytes.
func (r *Response) Encode() []byte {
	payload := make([]byte, 0, len(r.Data)+StatusLengthROM)
	payload = append(payload, r.Data...)
	payload = append(payload, r.Status, r.Error, 0, 0)

	packet := make([]byte, headerSize+len(payload))
	packet[0] = DirResponse
	packet[1] = r.Command
	binary.LittleEndian.PutUint16(packet[2:4], uint16(len(payload)))
	binary.LittleEndian.PutUint32(packet[4:8], r.Value)
	copy(packet[headerSize:], payload)
	return packet
}

// DecodeResponse parses a response from raw bytes (after SLIP decoding).
func DecodeResponse(data []byte) (*Response, error) {
	// Minimum response is 8 bytes header + 2 bytes status
	if len(data) < headerSize+StatusLengthStub {
		return nil, fmt.Errorf("response too short: %d bytes", len(data))
	}

	if data[0] != DirResponse {
		return nil, fmt.Errorf("invalid direction byte: 0x%02X", data[0])
	}

	resp := &Response{
		Command: data[1],
		Value:   binary.LittleEndian.Uint32(data[4:8]),
	}

	dataSize := int(binary.LittleEndian.Uint16(data[2:4]))
	if dataSize > len(data)-headerSize {
		return nil, fmt.Errorf("data size mismatch: expected %d, have %d", dataSize, len(data)-headerSize)
	}
	payload := data[headerSize : headerSize+dataSize]

	statusLen := StatusLengthROM
	if dataSize < StatusLengthROM {
		statusLen = StatusLengthStub
	}
	if dataSize < statusLen {
		resp.Data = payload
		return resp, nil
	}

	resp.Data = payload[:dataSize-statusLen]
	resp.Status = payload[dataSize-statusLen]
	resp.Error = payload[dataSize-statusLen+1]
	return resp, nil
}

// IsSuccess returns true if the response indicates success.
func (r *Response) IsSuccess() bool {
	return r.Status == 0 && r.Error == 0
}

// ErrorString returns a human-readable error message.
func (r *Response) ErrorString() string {
	if r.IsSuccess() {
		return ""
	}
	return fmt.Sprintf("status=0x%02X error=0x%02X (%s)", r.Status, r.Error, ErrorMessage(r.Error))
}

// SyncData returns the data payload for a SYNC command.
func SyncData() []byte {
	// 0x07 0x07 0x12 0x20 followed by 32 bytes of 0x55
	data := make([]byte, 36)
	copy(data, []byte{0x07, 0x07, 0x12, 0x20})
	for i := 4; i < len(data); i++ {
		data[i] = 0x55
	}
	return data
}

// FlashBeginData creates the data payload for FLASH_BEGIN. The classic ESP32
// ROM takes four words; later chips expect a fifth selecting encrypted
// writes, which extended adds (always cleared).
func FlashBeginData(eraseSize, numBlocks, blockSize, offset uint32, extended bool) []byte {
	n := 16
	if extended {
		n = 20
	}
	data := make([]byte, n)
	binary.LittleEndian.PutUint32(data[0:4], eraseSize)
	binary.LittleEndian.PutUint32(data[4:8], numBlocks)
	binary.LittleEndian.PutUint32(data[8:12], blockSize)
	binary.LittleEndian.PutUint32(data[12:16], offset)
	return data
}

// FlashDataData creates the data payload for FLASH_DATA. Short blocks are
// padded with 0xFF, the erased state of flash.
func FlashDataData(block []byte, seq uint32) []byte {
	size := max(len(block), FlashBlockSize)

	// size (4) + seq (4) + reserved (8)
	payload := make([]byte, 16+size)
	binary.LittleEndian.PutUint32(payload[0:4], uint32(size))
	binary.LittleEndian.PutUint32(payload[4:8], seq)
	n := copy(payload[16:], block)
	for i := 16 + n; i < len(payload); i++ {
		payload[i] = 0xFF
	}
	return payload
}

// FlashEndData creates the data payload for FLASH_END.
func FlashEndData(reboot bool) []byte {
	data := make([]byte, 4)
	if !reboot {
		binary.LittleEndian.PutUint32(data, 1) // stay in bootloader
	}
	return data
}

// FlashMD5Data creates the data payload for SPI_FLASH_MD5.
func FlashMD5Data(address, size uint32) []byte {
	data := make([]byte, 16)
	binary.LittleEndian.PutUint32(data[0:4], address)
	binary.LittleEndian.PutUint32(data[4:8], size)
	return data
}

// SpiAttachData creates the data payload for SPI_ATTACH. All zeros selects
// the default SPI pins.
func SpiAttachData() []byte {
	return make([]byte, 8)
}

// SecurityInfo is the decoded GET_SECURITY_INFO response.
type SecurityInfo struct {
	Flags           uint32
	FlashCryptCount byte
	KeyPurposes     [7]byte
	ChipID          uint32
	APIVersion      uint32
}

// ParseSecurityInfo decodes the 20-byte GET_SECURITY_INFO payload.
func ParseSecurityInfo(data []byte) (*SecurityInfo, error) {
	if len(data) < 20 {
		return nil, fmt.Errorf("security info too short: %d bytes", len(data))
	}
	info := &SecurityInfo{
		Flags:           binary.LittleEndian.Uint32(data[0:4]),
		FlashCryptCount: data[4],
		ChipID:          binary.LittleEndian.Uint32(data[12:16]),
		APIVersion:      binary.LittleEndian.Uint32(data[16:20]),
	}
	copy(info.KeyPurposes[:], data[5:12])
	return info, nil
}
