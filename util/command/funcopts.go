package command

import (
	"github.com/rs/zerolog"

	"github.com/opensvc/blkcache/util/funcopt"
)

func WithName(name string) funcopt.O {
	return funcopt.F(func(i interface{}) error {
		t := i.(*T)
		t.name = name
		return nil
	})
}

func WithArgs(args []string) funcopt.O {
	return funcopt.F(func(i interface{}) error {
		t := i.(*T)
		t.args = args
		return nil
	})
}

func WithVarArgs(args ...string) funcopt.O {
	return funcopt.F(func(i interface{}) error {
		t := i.(*T)
		t.args = args
		return nil
	})
}

func WithLogger(l *zerolog.Logger) funcopt.O {
	return funcopt.F(func(i interface{}) error {
		t := i.(*T)
		t.log = l
		return nil
	})
}

func WithCommandLogLevel(l zerolog.Level) funcopt.O {
	return funcopt.F(func(i interface{}) error {
		t := i.(*T)
		t.commandLogLevel = l
		return nil
	})
}

func WithStdoutLogLevel(l zerolog.Level) funcopt.O {
	return funcopt.F(func(i interface{}) error {
		t := i.(*T)
		t.stdoutLogLevel = l
		return nil
	})
}

func WithStderrLogLevel(l zerolog.Level) funcopt.O {
	return funcopt.F(func(i interface{}) error {
		t := i.(*T)
		t.stderrLogLevel = l
		return nil
	})
}

func WithBufferedStdout() funcopt.O {
	return funcopt.F(func(i interface{}) error {
		t := i.(*T)
		t.bufferStdout = true
		return nil
	})
}

func WithOkExitCodes(codes ...int) funcopt.O {
	return funcopt.F(func(i interface{}) error {
		t := i.(*T)
		t.okExitCodes = codes
		return nil
	})
}
