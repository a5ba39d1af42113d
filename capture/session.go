// Package capture drives the acquisition side of the scanner: a polling
// HTTP protocol for the camera device, a serial turntable, and the
// orchestration that sequences pattern projection, frame capture and
// rotation into scan directories the decoder understands.
package capture

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// ErrAcquisitionTimeout is returned when the camera or turntable does not
// respond within its window. The in-flight frame is abandoned; frames
// already on disk stay there.
var ErrAcquisitionTimeout = errors.New("acquisition timed out")

const (
	// DefaultFrameTimeout bounds one projected-frame round trip through
	// the polling device.
	DefaultFrameTimeout = 20 * time.Second

	// DefaultRotateTimeout bounds one turntable move.
	DefaultRotateTimeout = 10 * time.Second

	// livenessWindow is how recently the device must have polled to count
	// as connected.
	livenessWindow = 5 * time.Second
)

// Command is what the polling device receives: an action to perform and an
// id it must echo with the resulting upload.
type Command struct {
	ID     string `json:"id"`
	Action string `json:"action"`
}

type pendingCapture struct {
	cmd  Command
	dest string
	done chan error
}

// Session tracks one camera device across the polling protocol: whether it
// has checked in recently and which capture, if any, is in flight. Waiting
// for an upload is a channel receive, never a poll loop.
type Session struct {
	logger       golog.Logger
	frameTimeout time.Duration

	mu       sync.Mutex
	pending  *pendingCapture
	lastSeen time.Time
}

// NewSession returns a Session with the stock frame timeout.
func NewSession(logger golog.Logger) *Session {
	return &Session{logger: logger, frameTimeout: DefaultFrameTimeout}
}

// Connected reports whether the device has polled within the liveness
// window.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastSeen) < livenessWindow
}

// NextCommand hands the device its outstanding command, if any, and marks
// the device as seen.
func (s *Session) NextCommand() (Command, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen = time.Now()
	if s.pending == nil {
		return Command{}, false
	}
	return s.pending.cmd, true
}

// RequestFrame asks the device for one capture and blocks until the file
// lands at dest, the context is canceled, or the frame window lapses. Only
// one frame may be in flight at a time.
func (s *Session) RequestFrame(ctx context.Context, dest string) error {
	p := &pendingCapture{
		cmd:  Command{ID: uuid.New().String(), Action: "capture"},
		dest: dest,
		done: make(chan error, 1),
	}
	s.mu.Lock()
	if s.pending != nil {
		s.mu.Unlock()
		return errors.Errorf("a capture is already in flight (%s)", s.pending.cmd.ID)
	}
	s.pending = p
	s.mu.Unlock()
	s.logger.Debugw("frame requested", "id", p.cmd.ID, "dest", dest)

	timer := time.NewTimer(s.frameTimeout)
	defer timer.Stop()
	select {
	case err := <-p.done:
		return err
	case <-ctx.Done():
		s.abandon(p)
		return errors.Wrapf(ErrAcquisitionTimeout, "frame %q: %s", dest, ctx.Err())
	case <-timer.C:
		s.abandon(p)
		return errors.Wrapf(ErrAcquisitionTimeout, "frame %q after %s", dest, s.frameTimeout)
	}
}

func (s *Session) abandon(p *pendingCapture) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == p {
		s.pending = nil
	}
}

// CompleteUpload stores the device's upload for the in-flight command and
// releases the waiter. An upload with no matching command is rejected; it
// is a stale retry from an abandoned frame.
func (s *Session) CompleteUpload(id string, r io.Reader) error {
	s.mu.Lock()
	p := s.pending
	if p == nil || (id != "" && id != p.cmd.ID) {
		s.mu.Unlock()
		return errors.Errorf("no capture in flight matching id %q", id)
	}
	s.pending = nil
	s.mu.Unlock()

	err := writeFile(p.dest, r)
	if err != nil {
		err = errors.Wrapf(err, "saving frame %q", p.dest)
	} else {
		s.logger.Debugw("frame received", "id", p.cmd.ID, "dest", p.dest)
	}
	p.done <- err
	return err
}

func writeFile(dest string, r io.Reader) (err error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	//nolint:gosec
	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	_, err = io.Copy(f, r)
	return err
}
