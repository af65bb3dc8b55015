package device

import (
	"fmt"

	"github.com/go-kit/log"

	"github.com/bigbag/parttool/internal/protocol"
	"github.com/bigbag/parttool/internal/serial"
)

// Info describes a detected board.
type Info struct {
	Port     string
	ChipID   uint32
	ChipName string
}

// Probe resets the board on conn into the bootloader and identifies it.
func Probe(conn Conn, portName string, logger log.Logger) (*Info, error) {
	s := NewSession(conn, logger)

	if err := conn.ResetToBootloader(); err != nil {
		return nil, fmt.Errorf("failed to reset: %w", err)
	}
	if err := s.Sync(); err != nil {
		return nil, fmt.Errorf("failed to sync: %w", err)
	}

	info, err := s.ChipInfo()
	if err != nil {
		// Sync worked so it is an ESP32, just not one that reports its ID.
		return &Info{Port: portName, ChipName: "ESP32 (unknown variant)"}, nil
	}

	return &Info{
		Port:     portName,
		ChipID:   info.ChipID,
		ChipName: protocol.ChipName(info.ChipID),
	}, nil
}

// Detect returns the first board found on any serial port.
func Detect(baudRate int, logger log.Logger) (*Info, error) {
	ports, err := serial.ListPorts()
	if err != nil {
		return nil, fmt.Errorf("failed to list ports: %w", err)
	}
	if len(ports) == 0 {
		return nil, fmt.Errorf("no serial ports found")
	}

	var lastErr error
	for _, name := range ports {
		info, err := probePort(name, baudRate, logger)
		if err != nil {
			lastErr = err
			continue
		}
		return info, nil
	}

	return nil, fmt.Errorf("no ESP32 device found (last error: %w)", lastErr)
}

// DetectOnPort identifies the board on a specific port.
func DetectOnPort(portName string, baudRate int, logger log.Logger) (*Info, error) {
	return probePort(portName, baudRate, logger)
}

func probePort(name string, baudRate int, logger log.Logger) (*Info, error) {
	port, err := serial.Open(name, baudRate)
	if err != nil {
		return nil, err
	}
	defer port.Close()

	return Probe(port, name, logger)
}
