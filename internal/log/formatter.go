// Package log provides the logrus formatter used by country_sync.
package log

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const timestampFormat = "2006-01-02 15:04:05.000"

var levelColors = map[logrus.Level]int{
	logrus.TraceLevel: 37,
	logrus.DebugLevel: 37,
	logrus.InfoLevel:  36,
	logrus.WarnLevel:  33,
	logrus.ErrorLevel: 31,
	logrus.FatalLevel: 31,
	logrus.PanicLevel: 31,
}

// Formatter renders entries as "<time> [LEVEL] message key=value ..." with fields sorted by key
type Formatter struct {
	NoColors bool
}

// NewFormatter returns a formatter; colors are applied to the level only
func NewFormatter(noColors bool) *Formatter {
	return &Formatter{NoColors: noColors}
}

// Format implements logrus.Formatter
func (f *Formatter) Format(entry *logrus.Entry) ([]byte, error) {
	b := entry.Buffer
	if b == nil {
		b = &bytes.Buffer{}
	}

	b.WriteString(entry.Time.Format(timestampFormat))
	b.WriteString(" [")
	level := strings.ToUpper(entry.Level.String())
	if f.NoColors {
		b.WriteString(level)
	} else {
		fmt.Fprintf(b, "\x1b[%dm%s\x1b[0m", levelColors[entry.Level], level)
	}
	b.WriteString("] ")
	b.WriteString(strings.TrimSpace(entry.Message))

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteByte(' ')
		b.WriteString(k)
		b.WriteByte('=')
		writeValue(b, entry.Data[k])
	}

	b.WriteByte('\n')
	return b.Bytes(), nil
}

func writeValue(b *bytes.Buffer, v any) {
	var s string
	switch val := v.(type) {
	case error:
		s = val.Error()
	case time.Duration:
		s = val.String()
	case string:
		s = val
	default:
		s = fmt.Sprint(val)
	}
	if strings.ContainsAny(s, " \t\"=") {
		fmt.Fprintf(b, "%q", s)
		return
	}
	b.WriteString(s)
}
