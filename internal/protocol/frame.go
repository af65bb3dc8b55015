package protocol

// SLIP framing bytes
const (
	FrameEnd = 0xC0
	FrameEsc = 0xDB
	EscEnd   = 0xDC
	EscEsc   = 0xDD
)

// EncodeFrame wraps a packet in SLIP framing.
func EncodeFrame(packet []byte) []byte {
	frame := make([]byte, 0, len(packet)+10)
	frame = append(frame, FrameEnd)
	for _, b := range packet {
		switch b {
		case FrameEnd:
			frame = append(frame, FrameEsc, EscEnd)
		case FrameEsc:
			frame = append(frame, FrameEsc, EscEsc)
		default:
			frame = append(frame, b)
		}
	}
	return append(frame, FrameEnd)
}

// FrameDecoder reassembles SLIP frames from a byte stream that may deliver
// them in arbitrary pieces. Bytes outside a frame, such as boot log noise,
// are discarded.
type FrameDecoder struct {
	packet  []byte
	inFrame bool
	escaped bool
}

// Feed consumes data and returns every packet completed by it.
func (d *FrameDecoder) Feed(data []byte) [][]byte {
	var packets [][]byte
	for _, b := range data {
		if !d.inFrame {
			if b == FrameEnd {
				d.inFrame = true
			}
			continue
		}

		switch {
		case d.escaped:
			d.escaped = false
			switch b {
			case EscEnd:
				d.packet = append(d.packet, FrameEnd)
			case EscEsc:
				d.packet = append(d.packet, FrameEsc)
			default:
				d.packet = append(d.packet, b)
			}
		case b == FrameEsc:
			d.escaped = true
		case b == FrameEnd:
			// An END right after another END opens the next frame.
			if len(d.packet) == 0 {
				continue
			}
			packets = append(packets, d.packet)
			d.packet = nil
			d.inFrame = false
		default:
			d.packet = append(d.packet, b)
		}
	}
	return packets
}

// Reset drops any partial frame.
func (d *FrameDecoder) Reset() {
	d.packet = nil
	d.inFrame = false
	d.escaped = false
}
