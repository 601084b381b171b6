package infra

import (
	"fmt"
	"runtime"
	"strings"

	log "github.com/sirupsen/logrus"
)

// RunRecoverable runs job in the calling goroutine and restarts it after a panic.
// maxPanics limits the restarts, a negative value restarts forever. It returns false when
// the limit was exhausted and true once job returns normally.
func RunRecoverable(maxPanics int, id string, job func()) bool {
	for {
		if !panics(id, job) {
			return true
		}
		if maxPanics == 0 {
			log.WithField("job", id).Error("panics limit exceeded, giving up")
			return false
		}
		if maxPanics > 0 {
			maxPanics--
		}
		log.WithField("job", id).WithField("panics_left", maxPanics).Debug("recovering job")
	}
}

func panics(id string, job func()) (panicked bool) {
	defer func() {
		if err := recover(); err != nil {
			log.WithField("job", id).Errorf("job panics with message: %v, %s", err, identifyPanic())
			panicked = true
		}
	}()
	job()
	return false
}

func identifyPanic() string {
	var name, file string
	var line int
	var pc [16]uintptr

	n := runtime.Callers(3, pc[:])
	for _, pc := range pc[:n] {
		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}
		file, line = fn.FileLine(pc)
		name = fn.Name()
		if !strings.HasPrefix(name, "runtime.") {
			break
		}
	}

	switch {
	case name != "":
		return fmt.Sprintf("%v:%v", name, line)
	case file != "":
		return fmt.Sprintf("%v:%v", file, line)
	}

	return fmt.Sprintf("pc:%x", pc)
}
