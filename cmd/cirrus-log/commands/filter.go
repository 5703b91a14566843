package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/cirrusvault/cirrus-go/pkg/log"
)

// FilterOptions holds the event selection flags as typed by the user.
type FilterOptions struct {
	ConnID         string
	DeviceID       string
	OrganizationID string
	TimeStart      string // RFC 3339
	TimeEnd        string // RFC 3339
	Layer          string
	Direction      string
	Category       string
}

// optional parses s unless it is empty, in which case it returns nil.
func optional[T any](flag, s string, parse func(string) (T, error)) (*T, error) {
	if s == "" {
		return nil, nil
	}
	v, err := parse(s)
	if err != nil {
		return nil, fmt.Errorf("-%s: %w", flag, err)
	}
	return &v, nil
}

func parseTime(s string) (time.Time, error) { return time.Parse(time.RFC3339, s) }

// Build validates the options and returns the equivalent log.Filter.
func (o FilterOptions) Build() (log.Filter, error) {
	f := log.Filter{
		ConnectionID:   o.ConnID,
		DeviceID:       o.DeviceID,
		OrganizationID: o.OrganizationID,
	}
	var errs [5]error
	f.TimeStart, errs[0] = optional("time-start", o.TimeStart, parseTime)
	f.TimeEnd, errs[1] = optional("time-end", o.TimeEnd, parseTime)
	f.Layer, errs[2] = optional("layer", o.Layer, ParseLayerFlag)
	f.Direction, errs[3] = optional("direction", o.Direction, ParseDirectionFlag)
	f.Category, errs[4] = optional("category", o.Category, ParseCategoryFlag)
	if err := errors.Join(errs[:]...); err != nil {
		return log.Filter{}, err
	}
	return f, nil
}

// RunFilter writes the events of path selected by opts to a new capture at
// output and returns how many it wrote.
func RunFilter(path, output string, opts FilterOptions) (n int, err error) {
	filter, err := opts.Build()
	if err != nil {
		return 0, err
	}

	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return 0, fmt.Errorf("open capture: %w", err)
	}
	defer reader.Close()

	out, err := log.NewFileLogger(output)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", output, err)
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	for event, rerr := range reader.All() {
		if rerr != nil {
			return n, fmt.Errorf("read capture: %w", rerr)
		}
		out.Log(event)
		n++
	}
	return n, nil
}
