package infra

import (
	"context"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
)

// MonitorExecutable closes the returned channel when the running binary is replaced on
// disk or ctx is done, so that a supervisor can restart the process with the new build.
// A non-positive interval disables monitoring; the channel then only closes with ctx.
func MonitorExecutable(ctx context.Context, interval time.Duration) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		defer close(ch)
		l := log.WithField("object", "MonitorExecutable")

		if interval <= 0 {
			<-ctx.Done()
			return
		}
		exeFilename, err := os.Executable()
		if err != nil {
			l.WithField("error", err.Error()).Warn("cant resolve executable path")
			<-ctx.Done()
			return
		}
		stat, err := os.Stat(exeFilename)
		if err != nil {
			l.WithField("error", err.Error()).Warn("cant stat executable")
			<-ctx.Done()
			return
		}
		originalTime := stat.ModTime()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stat, err := os.Stat(exeFilename)
				if err != nil {
					l.WithField("error", err.Error()).Warn("cant stat executable")
					continue
				}
				if !originalTime.Equal(stat.ModTime()) {
					l.WithField("path", exeFilename).Warn("executable was modified")
					return
				}
			}
		}
	}()
	return ch
}
