package config

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

const (
	red         = 31
	yellow      = 33
	blue        = 36
	gray        = 37
	green       = 32
	cyan        = 96
	lightYellow = 93
	lightGreen  = 92
)

// NtFormatter prints logfmt-like lines with sorted fields, colored unless NoColor is set.
type NtFormatter struct {
	NoColor bool
}

func (f *NtFormatter) Format(entry *log.Entry) ([]byte, error) {
	levelColor := blue
	switch entry.Level {
	case log.DebugLevel, log.TraceLevel:
		levelColor = gray
	case log.WarnLevel:
		levelColor = yellow
	case log.ErrorLevel, log.FatalLevel, log.PanicLevel:
		levelColor = red
	}

	var b strings.Builder
	f.pair(&b, "level", strings.ToUpper(entry.Level.String())[:4], levelColor)
	f.pair(&b, "ts", entry.Time.Format("2006-01-02 15:04:05.000"), lightYellow)

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		m, err := json.Marshal(entry.Data[k])
		if err != nil || len(m) == 0 {
			continue
		}
		s := string(m)
		valueColor := cyan
		if _, err := strconv.ParseFloat(s, 64); err == nil {
			valueColor = green
		} else if strings.HasPrefix(s, "\"") && strings.HasSuffix(s, "\"") {
			valueColor = lightYellow
		}
		f.pair(&b, k, s, valueColor)
	}
	f.pair(&b, "msg", strconv.Quote(entry.Message), lightGreen)

	output := strings.NewReplacer("\r", "\\r", "\n", "\\n").Replace(b.String())
	return []byte(output + "\n"), nil
}

func (f *NtFormatter) pair(b *strings.Builder, key, value string, valueColor int) {
	if b.Len() > 0 {
		b.WriteByte(' ')
	}
	if f.NoColor {
		b.WriteString(key + "=" + value)
		return
	}
	fmt.Fprintf(b, "\x1b[%dm%s\x1b[0m=\x1b[%dm%s\x1b[0m", cyan, key, valueColor, value)
}
