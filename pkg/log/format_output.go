package log

import (
	"encoding/json"
	"io"
	"os"
	"time"
)

// JSONFormatter renders an Entry as a single line of JSON.
type JSONFormatter struct{}

func (f *JSONFormatter) Format(entry *Entry) ([]byte, error) {
	payload := make(map[string]interface{}, len(entry.Fields)+4)
	for k, v := range entry.Fields {
		payload[k] = v
	}
	payload["level"] = entry.Level.String()
	payload["msg"] = entry.Message
	payload["time"] = entry.Timestamp.UTC().Format(time.RFC3339Nano)
	if entry.Caller != "" {
		payload["caller"] = entry.Caller
	}
	if entry.Error != nil {
		payload["error"] = entry.Error.Error()
	}
	return json.Marshal(payload)
}

// ConsoleOutput writes formatted entries to Writer, one per line. A nil
// Writer means os.Stdout.
type ConsoleOutput struct {
	Writer io.Writer
}

func (o *ConsoleOutput) Write(_ *Entry, formatted []byte) error {
	w := o.Writer
	if w == nil {
		w = os.Stdout
	}
	_, err := w.Write(append(formatted, '\n'))
	return err
}

func (o *ConsoleOutput) Close() error { return nil }
