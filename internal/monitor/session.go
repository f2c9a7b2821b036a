// Package monitor opens raw serial monitor sessions on Linux. A session
// configures the port for 8N1 raw mode at the requested baud rate and hands
// out complete text lines; partial reads are buffered until a newline
// arrives.
package monitor

import (
	"bytes"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	fwbuild "github.com/allbin/fwbuild"
)

// baudRates maps common firmware console rates to their termios constants
var baudRates = map[int]uint32{
	9600:    unix.B9600,
	19200:   unix.B19200,
	38400:   unix.B38400,
	57600:   unix.B57600,
	115200:  unix.B115200,
	230400:  unix.B230400,
	460800:  unix.B460800,
	921600:  unix.B921600,
	1500000: unix.B1500000,
	2000000: unix.B2000000,
}

// Session is an open serial monitor on one device. It implements
// fwbuild.MonitorSession; ReadLine and Close may be called from different
// goroutines.
type Session struct {
	mu     sync.Mutex
	fd     int
	device string
	closed bool

	pending []byte   // bytes read but not yet terminated by a newline
	lines   [][]byte // complete lines waiting to be returned
}

// Open opens device at the given baud rate and configures it for raw
// line-oriented reading.
func Open(device string, baud int) (*Session, error) {
	rate, ok := baudRates[baud]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported baud rate %d", fwbuild.ErrInvalidConfig, baud)
	}

	fd, err := unix.Open(device, unix.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %v", device, err)
	}

	if err := configure(fd, rate); err != nil {
		unix.Close(fd)
		return nil, err
	}

	return &Session{fd: fd, device: device}, nil
}

// configure puts the port in raw 8N1 mode. VMIN=0/VTIME=1 makes reads poll
// in 100ms slices so Close is noticed promptly.
func configure(fd int, rate uint32) error {
	termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("failed to get termios: %v", err)
	}

	termios.Cflag = unix.CS8 | unix.CREAD | unix.CLOCAL
	termios.Iflag = 0
	termios.Oflag = 0
	termios.Lflag = 0
	termios.Cc[unix.VMIN] = 0
	termios.Cc[unix.VTIME] = 1

	termios.Cflag = (termios.Cflag &^ unix.CBAUD) | rate
	termios.Ispeed = rate
	termios.Ospeed = rate

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, termios); err != nil {
		return fmt.Errorf("failed to set termios: %v", err)
	}

	// Drop whatever accumulated in the input buffer before we attached
	return unix.IoctlSetInt(fd, unix.TCFLSH, unix.TCIFLUSH)
}

// ReadLine blocks until a complete line arrives and returns it without its
// line ending. A closed session returns fwbuild.ErrMonitorClosed.
func (s *Session) ReadLine() (string, error) {
	buf := make([]byte, 512)
	for {
		if line, ok := s.takeLine(); ok {
			return line, nil
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return "", fwbuild.ErrMonitorClosed
		}
		fd := s.fd
		s.mu.Unlock()

		n, err := unix.Read(fd, buf)
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed || err == unix.EBADF {
				return "", fwbuild.ErrMonitorClosed
			}
			if err == unix.EINTR || err == unix.EAGAIN {
				continue
			}
			return "", fmt.Errorf("read %s: %v", s.device, err)
		}
		if n == 0 {
			// VTIME poll slice expired with no data
			continue
		}
		s.feed(buf[:n])
	}
}

// feed appends freshly read bytes and splits off any complete lines
func (s *Session) feed(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = append(s.pending, data...)
	for {
		i := bytes.IndexByte(s.pending, '\n')
		if i < 0 {
			return
		}
		line := bytes.TrimRight(s.pending[:i], "\r")
		s.lines = append(s.lines, append([]byte(nil), line...))
		s.pending = s.pending[i+1:]
	}
}

func (s *Session) takeLine() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.lines) == 0 {
		return "", false
	}
	line := s.lines[0]
	s.lines = s.lines[1:]
	return string(line), true
}

// Close closes the underlying device. Pending ReadLine calls return
// fwbuild.ErrMonitorClosed on their next poll slice.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fwbuild.ErrMonitorClosed
	}
	s.closed = true
	return unix.Close(s.fd)
}

// Device returns the device path the session is attached to
func (s *Session) Device() string { return s.device }
