package goroutine

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

var globalGoRoutineNum = atomic.NewInt32(0)

func GetGoRoutineNum() int32 {
	return globalGoRoutineNum.Load()
}

// New starts a worker. A panic is dumped to disk and re-raised.
func New(function func()) {
	globalGoRoutineNum.Inc()
	go func() {
		defer globalGoRoutineNum.Dec()
		defer DumpStack(true)
		function()
	}()
}

// WithRecover starts a goroutine whose panic is logged and swallowed.
func WithRecover(handler func()) {
	go func() {
		defer DumpStack(false)
		handler()
	}()
}

func DumpStack(exitIFPanic bool) {
	if err := recover(); err != nil {
		logrus.WithField("obj", err).Error("Fatal error occurred")
		var buf bytes.Buffer
		stack := debug.Stack()
		buf.WriteString(fmt.Sprintf("Panic: %v\n", err))
		buf.Write(stack)
		dumpName := "dump_" + time.Now().Format("20060102-150405")
		nerr := ioutil.WriteFile(dumpName, buf.Bytes(), 0644)
		if nerr != nil {
			logrus.WithError(nerr).Warn("write dump file error")
		}
		logrus.Errorf("panic %v ", buf.String())
		if exitIFPanic {
			panic(err)
		}
	}
}
