package commands

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/cirrusvault/cirrus-go/pkg/log"
)

// sink receives exported events in order. finish flushes buffered output.
type sink interface {
	write(log.Event) error
	finish() error
}

type jsonlSink struct{ enc *json.Encoder }

func (s jsonlSink) write(e log.Event) error { return s.enc.Encode(e) }
func (s jsonlSink) finish() error           { return nil }

var csvHeader = []string{
	"timestamp", "connection_id", "role", "direction", "layer", "category",
	"device_id", "organization_id", "type", "detail",
}

type csvSink struct{ w *csv.Writer }

func (s csvSink) write(e log.Event) error {
	return s.w.Write([]string{
		e.Timestamp.UTC().Format(timeLayout),
		e.ConnectionID,
		e.LocalRole.String(),
		e.Direction.String(),
		e.Layer.String(),
		e.Category.String(),
		e.DeviceID,
		e.OrganizationID,
		summarize(e).kind,
		detail(e),
	})
}

func (s csvSink) finish() error {
	s.w.Flush()
	return s.w.Error()
}

func newSink(format string, w io.Writer) (sink, error) {
	switch format {
	case "jsonl":
		return jsonlSink{json.NewEncoder(w)}, nil
	case "csv":
		cw := csv.NewWriter(w)
		if err := cw.Write(csvHeader); err != nil {
			return nil, err
		}
		return csvSink{cw}, nil
	}
	return nil, fmt.Errorf("unknown format %q (supported: jsonl, csv)", format)
}

// RunExport converts the capture at path to format, writing to the file
// output or to stdout when output is empty.
func RunExport(path, format, output string) (err error) {
	if _, err := newSink(format, io.Discard); err != nil {
		return err
	}

	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("open capture: %w", err)
	}
	defer reader.Close()

	var w io.Writer = os.Stdout
	if output != "" {
		f, cerr := os.Create(output)
		if cerr != nil {
			return fmt.Errorf("create %s: %w", output, cerr)
		}
		defer func() {
			if cerr := f.Close(); err == nil {
				err = cerr
			}
		}()
		w = f
	}

	out, err := newSink(format, w)
	if err != nil {
		return err
	}
	for event, err := range reader.All() {
		if err != nil {
			return fmt.Errorf("read capture: %w", err)
		}
		if err := out.write(event); err != nil {
			return fmt.Errorf("export event: %w", err)
		}
	}
	return out.finish()
}

// detail condenses the payload into one CSV column.
func detail(e log.Event) string {
	join := func(a, b string) string {
		if b == "" {
			return a
		}
		return a + ":" + b
	}
	switch {
	case e.Frame != nil:
		return strconv.Itoa(e.Frame.Size) + " bytes"
	case e.Handshake != nil:
		return join(e.Handshake.Step, e.Handshake.Result)
	case e.Message != nil:
		return join(e.Message.Cmd, e.Message.Status)
	case e.StateChange != nil:
		return e.StateChange.NewState
	case e.ControlMsg != nil:
		return "seq=" + strconv.FormatUint(uint64(e.ControlMsg.Sequence), 10)
	case e.Error != nil:
		return e.Error.Message
	}
	return ""
}
