package frontend

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

// defaultBaudRate matches pkg/gnssgo/stream/serial.go's serial-stream
// default.
const defaultBaudRate = 9600

// SerialSource reads a live byte stream off a serial/USB-CDC front end.
// Its mode-string parser (port[:baud[:bits[:parity[:stopbits]]]]) follows
// OpenSerial's grammar, minus the RTS flow-control and TCP-bridge options
// that belong to the RTKLIB stream model this domain doesn't use.
type SerialSource struct {
	modeString     string
	blockSizeBytes int
	logger         logrus.FieldLogger

	mu     sync.Mutex
	port   serial.Port
	cancel context.CancelFunc
}

// NewSerialSource returns a SerialSource for modeString
// ("port[:baud[:bits[:parity[:stopbits]]]]", e.g. "/dev/ttyUSB0:921600").
func NewSerialSource(modeString string, blockSizeBytes int, logger logrus.FieldLogger) *SerialSource {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &SerialSource{
		modeString:     modeString,
		blockSizeBytes: blockSizeBytes,
		logger:         logger.WithField("source", "serial"),
	}
}

// Start opens the serial port and reads fixed-size blocks until ctx is
// cancelled or the port returns an error.
func (s *SerialSource) Start(ctx context.Context, onBuffer OnBuffer) error {
	portName, mode, err := parseSerialModeString(s.modeString)
	if err != nil {
		return fmt.Errorf("frontend: parse serial mode: %w", err)
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return fmt.Errorf("frontend: open serial port %s: %w", portName, err)
	}
	defer port.Close()

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.port = port
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	go func() {
		<-runCtx.Done()
		port.Close()
	}()

	buf := make([]byte, s.blockSizeBytes)
	filled := 0
	for {
		select {
		case <-runCtx.Done():
			return nil
		default:
		}

		n, err := port.Read(buf[filled:])
		if err != nil {
			if runCtx.Err() != nil {
				return nil
			}
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("frontend: read serial port: %w", err)
		}
		filled += n
		if filled == len(buf) {
			onBuffer(buf)
			filled = 0
		}
	}
}

// Stop closes the serial port, unblocking any in-flight Read.
func (s *SerialSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

// parseSerialModeString parses "port[:baud[:bits[:parity[:stopbits]]]]"
// into a port name and a go.bug.st/serial Mode.
func parseSerialModeString(modeString string) (string, *serial.Mode, error) {
	parts := strings.Split(modeString, ":")
	if len(parts) == 0 || parts[0] == "" {
		return "", nil, fmt.Errorf("frontend: empty serial port name")
	}

	port := parts[0]
	baud := defaultBaudRate
	dataBits := 8
	parityCode := "N"
	stopBits := 1

	if len(parts) > 1 && parts[1] != "" {
		v, err := strconv.Atoi(parts[1])
		if err != nil {
			return "", nil, fmt.Errorf("frontend: invalid baud rate %q: %w", parts[1], err)
		}
		baud = v
	}
	if len(parts) > 2 && parts[2] != "" {
		v, err := strconv.Atoi(parts[2])
		if err != nil {
			return "", nil, fmt.Errorf("frontend: invalid data bits %q: %w", parts[2], err)
		}
		dataBits = v
	}
	if len(parts) > 3 && parts[3] != "" {
		parityCode = strings.ToUpper(parts[3])
	}
	if len(parts) > 4 && parts[4] != "" {
		v, err := strconv.Atoi(parts[4])
		if err != nil {
			return "", nil, fmt.Errorf("frontend: invalid stop bits %q: %w", parts[4], err)
		}
		stopBits = v
	}

	parity := serial.NoParity
	switch parityCode {
	case "E":
		parity = serial.EvenParity
	case "O":
		parity = serial.OddParity
	}

	stop := serial.OneStopBit
	if stopBits == 2 {
		stop = serial.TwoStopBits
	}

	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: dataBits,
		Parity:   parity,
		StopBits: stop,
	}
	return port, mode, nil
}
