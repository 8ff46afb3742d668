package framemux

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

// Source names understood by Open besides file and device paths.
const (
	SourceStdin = "-"
	SourceMock  = "mock"
)

// Open picks a Source for the given name:
//
//	""           disabled, never produces frames
//	"-"          standard input
//	"mock"       a scripted demo sequence at 10 frames per second
//	/dev/tty*    serial device opened with opts
//	anything     a JSONL file
func Open(source string, opts PortOptions) (Source, error) {
	switch {
	case source == "":
		return NewDisabledFrameMux(), nil
	case source == SourceStdin:
		return NewFrameMux[io.ReadCloser]("stdin", io.NopCloser(os.Stdin)), nil
	case source == SourceMock:
		return NewMockFrameMux(DemoScript(), DemoInterval), nil
	case IsSerialPath(source):
		mux, err := OpenSerial(source, opts)
		if err != nil {
			return nil, err
		}
		return mux, nil
	}

	f, err := os.Open(source)
	if err != nil {
		return nil, fmt.Errorf("open frame source: %w", err)
	}
	return NewFrameMux(source, f), nil
}

// OpenSerial creates a FrameMux backed by the serial port at path.
func OpenSerial(path string, opts PortOptions) (*FrameMux[serial.Port], error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", path, err)
	}
	zap.L().Info("opened serial frame source",
		zap.String("path", path), zap.Int("baud_rate", mode.BaudRate))

	return NewFrameMux[serial.Port](path, port), nil
}

// IsSerialPath reports whether path names a serial device.
func IsSerialPath(path string) bool {
	if runtime.GOOS == "windows" {
		return strings.HasPrefix(strings.ToUpper(path), "COM")
	}
	return strings.HasPrefix(path, "/dev/tty") || strings.HasPrefix(path, "/dev/cu.")
}
