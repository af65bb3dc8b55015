package protocol

// ESP32 ROM bootloader commands
const (
	CmdFlashBegin      = 0x02
	CmdFlashData       = 0x03
	CmdFlashEnd        = 0x04
	CmdSync            = 0x08
	CmdSpiAttach       = 0x0D
	CmdSpiFlashMD5     = 0x13
	CmdGetSecurityInfo = 0x14
)

// Direction byte values
const (
	DirRequest  = 0x00
	DirResponse = 0x01
)

// Flash parameters
const (
	FlashBlockSize  = 0x400  // 1KB blocks
	FlashSectorSize = 0x1000 // 4KB sectors
)

// DefaultBaudRate is the rate the ROM loader is driven at after sync.
const DefaultBaudRate = 921600

// ROM loaders of the ESP32 family append four status bytes to every
// response; the flasher stub and ESP8266 send two.
const (
	StatusLengthROM  = 4
	StatusLengthStub = 2
)

// Chip IDs reported by GET_SECURITY_INFO
const (
	ChipIDESP32C3 = 0x05
	ChipIDESP32S3 = 0x09
	ChipIDESP32C2 = 0x0C
	ChipIDESP32C6 = 0x0D
	ChipIDESP32H2 = 0x10
)

// ChipName returns human-readable name for chip ID
func ChipName(id uint32) string {
	switch id {
	case ChipIDESP32C3:
		return "ESP32-C3"
	case ChipIDESP32S3:
		return "ESP32-S3"
	case ChipIDESP32C2:
		return "ESP32-C2"
	case ChipIDESP32C6:
		return "ESP32-C6"
	case ChipIDESP32H2:
		return "ESP32-H2"
	default:
		return "ESP32"
	}
}

// Error codes from ROM bootloader
const (
	ErrInvalidMessage  = 0x05
	ErrFailedToAct     = 0x06
	ErrInvalidCRC      = 0x07
	ErrFlashWriteErr   = 0x08
	ErrFlashReadErr    = 0x09
	ErrFlashReadLenErr = 0x0A
	ErrDeflateError    = 0x0B
)

// ErrorMessage returns human-readable error message
func ErrorMessage(code byte) string {
	switch code {
	case ErrInvalidMessage:
		return "invalid message"
	case ErrFailedToAct:
		return "failed to act"
	case ErrInvalidCRC:
		return "invalid CRC"
	case ErrFlashWriteErr:
		return "flash write error"
	case ErrFlashReadErr:
		return "flash read error"
	case ErrFlashReadLenErr:
		return "flash read length error"
	case ErrDeflateError:
		return "deflate error"
	default:
		return "unknown error"
	}
}

// CalculateFlashBlocks returns the number of FLASH_DATA blocks for size bytes.
func CalculateFlashBlocks(size int) uint32 {
	return uint32((size + FlashBlockSize - 1) / FlashBlockSize)
}

// CalculateEraseSize rounds size up to whole sectors.
func CalculateEraseSize(size int) uint32 {
	return uint32((size + FlashSectorSize - 1) / FlashSectorSize * FlashSectorSize)
}
