// Package logging configures the process-wide logrus logger.
package logging

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"
)

// Formatter renders entries as "[date time] message (key=value ...)".
type Formatter struct {
	// Now is used for the timestamp; nil means the entry time.
	Now func() time.Time
}

// Format implements logrus.Formatter.
func (f *Formatter) Format(e *log.Entry) ([]byte, error) {
	t := e.Time
	if f.Now != nil {
		t = f.Now()
	}

	keys := make([]string, 0, len(e.Data))
	for k := range e.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	data := bytes.NewBuffer(make([]byte, 0, 128))
	for i, k := range keys {
		if i > 0 {
			data.WriteByte(' ')
		}
		fmt.Fprintf(data, "%s=%v", k, e.Data[k])
	}

	var msg string
	if data.Len() > 0 {
		msg = fmt.Sprintf("[%s] %s (%s)\n", t.Format("2006-01-02 15:04:05"), e.Message, data)
	} else {
		msg = fmt.Sprintf("[%s] %s\n", t.Format("2006-01-02 15:04:05"), e.Message)
	}
	return []byte(msg), nil
}

// Setup points the standard logrus logger at out. Debug output is enabled on request.
func Setup(out io.Writer, debug bool) {
	log.SetOutput(out)
	log.SetFormatter(&Formatter{})
	if debug {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}
}
