// Package command wraps exec.Cmd with leveled logging of the command
// line and its output streams.
package command

import (
	"bufio"
	"bytes"
	"fmt"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/opensvc/blkcache/util/funcopt"
)

type (
	T struct {
		name            string
		args            []string
		log             *zerolog.Logger
		logLevel        zerolog.Level
		commandLogLevel zerolog.Level
		stdoutLogLevel  zerolog.Level
		stderrLogLevel  zerolog.Level
		bufferStdout    bool
		okExitCodes     []int

		cmd    *exec.Cmd
		stdout []byte
		ran    bool
	}

	ErrExitCode struct {
		exitCode     int
		successCodes []int
	}
)

var (
	ErrAlreadyRun = errors.New("command: already run")
)

func New(opts ...funcopt.O) *T {
	t := &T{
		stdoutLogLevel:  zerolog.Disabled,
		stderrLogLevel:  zerolog.Disabled,
		logLevel:        zerolog.DebugLevel,
		commandLogLevel: zerolog.DebugLevel,
		okExitCodes:     []int{0},
	}
	_ = funcopt.Apply(t, opts...)
	return t
}

func (t *T) String() string {
	if len(t.args) == 0 {
		return t.name
	}
	args := make([]string, len(t.args))
	for i, arg := range t.args {
		args[i] = fmt.Sprintf("%q", arg)
	}
	return fmt.Sprintf("%v %s", t.name, strings.Join(args, " "))
}

// Run executes the command, waits for its completion, and verifies
// the exit code against the ok exit codes.
func (t *T) Run() error {
	if t.ran {
		return ErrAlreadyRun
	}
	t.ran = true
	cmd := exec.Command(t.name, t.args...)
	t.cmd = cmd
	var stdout, stderr bytes.Buffer
	if t.bufferStdout || t.stdoutLogLevel != zerolog.Disabled {
		cmd.Stdout = &stdout
	}
	if t.stderrLogLevel != zerolog.Disabled {
		cmd.Stderr = &stderr
	}
	if t.log != nil && t.commandLogLevel != zerolog.Disabled {
		t.log.WithLevel(t.commandLogLevel).Str("cmd", cmd.String()).Msg("running")
	}
	err := cmd.Run()
	t.stdout = stdout.Bytes()
	t.logLines(t.stdoutLogLevel, "out", stdout.Bytes())
	t.logLines(t.stderrLogLevel, "err", stderr.Bytes())
	if err != nil {
		if exitError, ok := err.(*exec.ExitError); ok {
			return t.checkExitCode(exitError.ExitCode())
		}
		if t.log != nil {
			t.log.WithLevel(t.logLevel).Err(err).Str("cmd", cmd.String()).Msg("run")
		}
		return err
	}
	return t.checkExitCode(t.ExitCode())
}

// Output runs the command and returns its buffered stdout.
func (t *T) Output() ([]byte, error) {
	t.bufferStdout = true
	if err := t.Run(); err != nil {
		return nil, err
	}
	return t.stdout, nil
}

// Stdout returns the stdout of the command (meaningful after Run() on a
// command created with WithBufferedStdout).
func (t *T) Stdout() []byte {
	return t.stdout
}

func (t *T) ExitCode() int {
	return t.cmd.ProcessState.ExitCode()
}

func (t *T) logLines(level zerolog.Level, key string, b []byte) {
	if t.log == nil || level == zerolog.Disabled {
		return
	}
	s := bufio.NewScanner(bytes.NewReader(b))
	for s.Scan() {
		t.log.WithLevel(level).Str(key, s.Text()).Send()
	}
}

func (t *T) checkExitCode(exitCode int) error {
	if len(t.okExitCodes) == 0 {
		return nil
	}
	for _, validCode := range t.okExitCodes {
		if exitCode == validCode {
			return nil
		}
	}
	err := &ErrExitCode{exitCode: exitCode, successCodes: t.okExitCodes}
	if t.log != nil {
		t.log.WithLevel(t.logLevel).Err(err).Str("cmd", t.String()).Int("exitCode", exitCode).Send()
	}
	return err
}

func (e *ErrExitCode) Error() string {
	return fmt.Sprintf("command exit code %v not in success codes: %v", e.exitCode, e.successCodes)
}
