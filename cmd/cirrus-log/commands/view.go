// Package commands implements the cirrus-log subcommands.
package commands

import (
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/cirrusvault/cirrus-go/pkg/log"
)

const timeLayout = "2006-01-02T15:04:05.000000Z"

// field is one "Label: value" detail line. Empty values are not printed.
type field struct {
	label, value string
}

// summary is the printable form of an event payload.
type summary struct {
	kind   string
	fields []field
}

func summarize(event log.Event) summary {
	switch {
	case event.Frame != nil:
		f := event.Frame
		data := ""
		if len(f.Data) > 0 {
			data = hex.EncodeToString(f.Data)
			if f.Truncated {
				data += " (truncated)"
			}
		}
		return summary{"Frame", []field{
			{"Size", strconv.Itoa(f.Size) + " bytes"},
			{"Data", data},
		}}

	case event.Handshake != nil:
		h := event.Handshake
		return summary{"Handshake", []field{
			{"Step", h.Step},
			{"Answer", h.AnswerType},
			{"Result", h.Result},
			{"API version", h.APIVersion},
		}}

	case event.Message != nil:
		m := event.Message
		s := summary{kind: m.Type.String(), fields: []field{{"Cmd", m.Cmd}}}
		if m.Type == log.MessageTypeResponse {
			took := ""
			if m.ProcessingTime != nil {
				took = formatDuration(*m.ProcessingTime)
			}
			s.fields = append(s.fields, field{"Status", m.Status}, field{"Reason", m.Reason}, field{"Duration", took})
		}
		return s

	case event.StateChange != nil:
		sc := event.StateChange
		return summary{"State", []field{
			{"Entity", sc.Entity.String()},
			{"Transition", strings.TrimSpace(sc.OldState + " -> " + sc.NewState)},
			{"Reason", sc.Reason},
		}}

	case event.ControlMsg != nil:
		c := event.ControlMsg
		s := summary{kind: c.Type.String()}
		if c.Type != log.ControlMsgClose {
			s.fields = []field{{"Seq", strconv.FormatUint(uint64(c.Sequence), 10)}}
		}
		return s

	case event.Error != nil:
		e := event.Error
		return summary{"Error", []field{
			{"Layer", e.Layer.String()},
			{"Message", e.Message},
			{"Kind", e.Kind},
			{"Context", e.Context},
		}}
	}
	return summary{kind: "Unknown"}
}

// formatEvent writes a header line, the identity if known and the payload
// details, followed by a blank line.
func formatEvent(w io.Writer, event log.Event) {
	layer := event.Layer.String()
	if event.Category == log.CategoryControl {
		layer = "CTRL"
	}
	s := summarize(event)

	fmt.Fprintf(w, "%s [conn:%s] %-3s %s %s\n",
		event.Timestamp.UTC().Format(timeLayout), shortID(event.ConnectionID),
		event.Direction, layer, s.kind)

	if id := identityLabel(event); id != "" {
		fmt.Fprintf(w, "  Identity: %s\n", id)
	}
	for _, f := range s.fields {
		if f.value != "" {
			fmt.Fprintf(w, "  %s: %s\n", f.label, f.value)
		}
	}
	fmt.Fprintln(w)
}

// identityLabel renders device@organization, or whichever half is known.
func identityLabel(event log.Event) string {
	if event.DeviceID != "" && event.OrganizationID != "" {
		return event.DeviceID + "@" + event.OrganizationID
	}
	return event.DeviceID + event.OrganizationID
}

func shortID(id string) string {
	return id[:min(len(id), 8)]
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return strconv.FormatFloat(float64(d)/float64(time.Microsecond), 'f', 3, 64) + "us"
	case d < time.Second:
		return strconv.FormatFloat(float64(d)/float64(time.Millisecond), 'f', 3, 64) + "ms"
	}
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64) + "s"
}

// ParseLayerFlag parses a layer name. "app" is short for application.
func ParseLayerFlag(s string) (log.Layer, error) {
	if strings.EqualFold(s, "app") {
		return log.LayerApplication, nil
	}
	return log.ParseLayer(s)
}

func ParseDirectionFlag(s string) (log.Direction, error) { return log.ParseDirection(s) }

func ParseCategoryFlag(s string) (log.Category, error) { return log.ParseCategory(s) }

// RunView prints the events of the capture at path that pass filter.
func RunView(path string, filter log.Filter, output io.Writer) error {
	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return fmt.Errorf("open capture: %w", err)
	}
	defer reader.Close()

	for event, err := range reader.All() {
		if err != nil {
			return fmt.Errorf("read capture: %w", err)
		}
		formatEvent(output, event)
	}
	return nil
}
