package daemon

import (
	"io"
	"os"
	"os/exec"

	"github.com/sirupsen/logrus"
)

// commandSink pipes one flush to the standard input of a freshly spawned
// child of the configured shell command. Closing the sink closes the pipe
// and reaps the child, logging a non-zero exit status.
type commandSink struct {
	logger logrus.FieldLogger
	cmd    *exec.Cmd
	stdin  io.WriteCloser
}

// NewCommandSinkFactory returns a SinkFactory spawning command via the
// shell for every flush.
func NewCommandSinkFactory(logger logrus.FieldLogger, command string) SinkFactory {
	return func() (io.WriteCloser, error) {
		cmd := exec.Command("/bin/sh", "-c", command)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, err
		}
		if err := cmd.Start(); err != nil {
			return nil, err
		}
		return &commandSink{
			logger: logger.WithField("command", command),
			cmd:    cmd,
			stdin:  stdin,
		}, nil
	}
}

func (s *commandSink) Write(p []byte) (int, error) {
	return s.stdin.Write(p)
}

func (s *commandSink) Close() error {
	if err := s.stdin.Close(); err != nil {
		return err
	}
	if err := s.cmd.Wait(); err != nil {
		s.logger.WithError(err).Warn("Streaming command exited with error")
		return err
	}
	return nil
}
