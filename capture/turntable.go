package capture

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.bug.st/serial"
)

// Turntable rotates the scanned object between poses.
type Turntable interface {
	// Rotate turns the table by the given angle in degrees and blocks
	// until the controller confirms the move finished.
	Rotate(ctx context.Context, degrees float64) error
	Close() error
}

const (
	turntableBaud = 115200

	// doneToken is the controller's move-complete acknowledgement.
	doneToken = "DONE"
)

type serialTurntable struct {
	port    serial.Port
	timeout time.Duration
	logger  golog.Logger
}

// OpenTurntable connects to the stepper controller on the given serial
// device. The protocol is a newline-framed decimal angle out, a DONE line
// back when the move settles.
func OpenTurntable(device string, logger golog.Logger) (Turntable, error) {
	port, err := serial.Open(device, &serial.Mode{BaudRate: turntableBaud})
	if err != nil {
		return nil, errors.Wrapf(err, "opening turntable on %q", device)
	}
	if err := port.SetReadTimeout(100 * time.Millisecond); err != nil {
		return nil, errors.Wrap(err, "configuring turntable read timeout")
	}
	// the controller resets on connect; give its bootloader a moment
	time.Sleep(2 * time.Second)
	return &serialTurntable{port: port, timeout: DefaultRotateTimeout, logger: logger}, nil
}

func (t *serialTurntable) Rotate(ctx context.Context, degrees float64) error {
	if _, err := t.port.Write([]byte(fmt.Sprintf("%g\n", degrees))); err != nil {
		return errors.Wrap(err, "sending rotation")
	}
	t.logger.Debugw("rotation sent", "degrees", degrees)

	deadline := time.Now().Add(t.timeout)
	var line strings.Builder
	buf := make([]byte, 64)
	for {
		if err := ctx.Err(); err != nil {
			return errors.Wrapf(ErrAcquisitionTimeout, "turntable: %s", err)
		}
		if time.Now().After(deadline) {
			return errors.Wrapf(ErrAcquisitionTimeout, "turntable gave no %s within %s", doneToken, t.timeout)
		}
		n, err := t.port.Read(buf)
		if err != nil {
			return errors.Wrap(err, "reading turntable reply")
		}
		for _, b := range buf[:n] {
			if b != '\n' && b != '\r' {
				line.WriteByte(b)
				continue
			}
			if strings.TrimSpace(line.String()) == doneToken {
				return nil
			}
			line.Reset()
		}
	}
}

func (t *serialTurntable) Close() error {
	return t.port.Close()
}
