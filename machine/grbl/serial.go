package grbl

import (
	"io"
	"sort"
	"strings"

	"github.com/tarm/serial"
	bugserial "go.bug.st/serial"

	"github.com/mastercactapus/pickplace/fault"
)

// OpenSerial opens a local serial port. Reads block until data arrives.
func OpenSerial(name string, baud int) (io.ReadWriteCloser, error) {
	p, err := serial.OpenPort(&serial.Config{Name: name, Baud: baud})
	if err != nil {
		return nil, fault.Wrap(fault.TransientIO, err, "open "+name)
	}
	return p, nil
}

// Ports lists the serial ports on this system.
func Ports() ([]string, error) {
	ports, err := bugserial.GetPortsList()
	if err != nil {
		return nil, fault.Wrap(fault.TransientIO, err, "list serial ports")
	}
	sort.Strings(ports)
	return ports, nil
}

// isCandidatePort matches the USB serial adapters grbl boards show up as.
func isCandidatePort(port string) bool {
	for _, prefix := range []string{
		"/dev/ttyUSB", "/dev/ttyACM",
		"/dev/tty.usbmodem", "/dev/tty.usbserial",
		"/dev/cu.usbmodem", "/dev/cu.usbserial",
		"COM",
	} {
		if strings.HasPrefix(port, prefix) {
			return true
		}
	}
	return false
}

// DetectPort returns the first candidate in ports.
func DetectPort(ports []string) (string, error) {
	for _, p := range ports {
		if isCandidatePort(p) {
			return p, nil
		}
	}
	return "", fault.Errorf(fault.Configuration, "no grbl serial port found among %v", ports)
}
