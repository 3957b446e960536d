package logger

import (
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// skippedFrames lists function-name fragments that never count as the call site.
var skippedFrames = []string{
	"sirupsen/logrus",
	"dex-funding-hub/logger.",
}

// callerHook points entry.Caller at the first frame outside logrus and this
// package so the "file" field names the adapter or pipeline that logged.
type callerHook struct{}

func (h *callerHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *callerHook) Fire(entry *logrus.Entry) error {
	pcs := make([]uintptr, 24)
	n := runtime.Callers(6, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if !skipFrame(frame.Function) {
			entry.Caller = &frame
			return nil
		}
		if !more {
			return nil
		}
	}
}

func skipFrame(fn string) bool {
	for _, fragment := range skippedFrames {
		if strings.Contains(fn, fragment) {
			return true
		}
	}
	return false
}
