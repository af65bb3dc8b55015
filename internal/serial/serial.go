package serial

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

const defaultReadTimeout = 100 * time.Millisecond

// Port wraps a serial port with ESP32 reset handling.
type Port struct {
	port     serial.Port
	portName string
	baudRate int
}

// Open opens a serial port with the specified baud rate.
func Open(portName string, baudRate int) (*Port, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open port %s: %w", portName, err)
	}

	if err := port.SetReadTimeout(defaultReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}

	return &Port{
		port:     port,
		portName: portName,
		baudRate: baudRate,
	}, nil
}

// Close closes the serial port.
func (p *Port) Close() error {
	if p.port != nil {
		return p.port.Close()
	}
	return nil
}

// Write writes data to the serial port.
func (p *Port) Write(data []byte) (int, error) {
	return p.port.Write(data)
}

// ReadWithTimeout reads whatever arrives within timeout. A timeout with no
// data returns 0 and a nil error.
func (p *Port) ReadWithTimeout(buf []byte, timeout time.Duration) (int, error) {
	if err := p.port.SetReadTimeout(timeout); err != nil {
		return 0, err
	}
	defer p.port.SetReadTimeout(defaultReadTimeout)

	return p.port.Read(buf)
}

// Flush discards any buffered input.
func (p *Port) Flush() error {
	return p.port.ResetInputBuffer()
}

// ResetToBootloader resets the ESP32 into download mode through the DTR/RTS
// auto-reset circuit found on most dev boards. The transistor drivers invert
// both lines: RTS drives EN and DTR drives GPIO0.
func (p *Port) ResetToBootloader() error {
	steps := []struct {
		rts, dtr bool
		wait     time.Duration
	}{
		{rts: true, dtr: false, wait: 100 * time.Millisecond}, // EN low
		{rts: false, dtr: true, wait: 50 * time.Millisecond},  // EN high, GPIO0 low
		{rts: true, dtr: false, wait: 50 * time.Millisecond},  // release GPIO0
		{rts: false, dtr: false},
	}

	for _, s := range steps {
		if err := p.port.SetRTS(s.rts); err != nil {
			return err
		}
		if err := p.port.SetDTR(s.dtr); err != nil {
			return err
		}
		time.Sleep(s.wait)
	}

	// Flush any garbage from reset
	p.Flush()
	time.Sleep(100 * time.Millisecond)

	return nil
}

// HardReset pulses EN to restart into the application.
func (p *Port) HardReset() error {
	if err := p.port.SetRTS(true); err != nil {
		return err
	}
	time.Sleep(100 * time.Millisecond)
	return p.port.SetRTS(false)
}

// PortName returns the port name.
func (p *Port) PortName() string {
	return p.portName
}

// ListPorts returns a list of available serial ports.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}
