package commands

import (
	"cmp"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/cirrusvault/cirrus-go/pkg/log"
)

// Stats aggregates a capture.
type Stats struct {
	TotalEvents       int
	EventsByLayer     map[log.Layer]int
	EventsByCategory  map[log.Category]int
	EventsByDirection map[log.Direction]int
	HandshakeResults  map[string]int
	Commands          map[string]int // requests only
	Connections       map[string]*ConnectionStats
	Errors            int
	TimeRange         struct {
		Start time.Time
		End   time.Time
	}
}

// ConnectionStats aggregates the events of one connection ID. Identity and
// address fields keep the first non-empty value seen.
type ConnectionStats struct {
	FirstSeen      time.Time
	LastSeen       time.Time
	Events         int
	Role           log.Role
	RemoteAddr     string
	DeviceID       string
	OrganizationID string
	Result         string
	Pings          int
	Closed         bool
}

func newStats() *Stats {
	return &Stats{
		EventsByLayer:     map[log.Layer]int{},
		EventsByCategory:  map[log.Category]int{},
		EventsByDirection: map[log.Direction]int{},
		HandshakeResults:  map[string]int{},
		Commands:          map[string]int{},
		Connections:       map[string]*ConnectionStats{},
	}
}

func CollectStats(path string) (*Stats, error) {
	reader, err := log.NewReader(path)
	if err != nil {
		return nil, fmt.Errorf("open capture: %w", err)
	}
	defer reader.Close()

	stats := newStats()
	for event, err := range reader.All() {
		if err != nil {
			return nil, fmt.Errorf("read capture: %w", err)
		}
		stats.add(event)
	}
	return stats, nil
}

func (s *Stats) add(e log.Event) {
	s.TotalEvents++
	s.EventsByLayer[e.Layer]++
	s.EventsByCategory[e.Category]++
	s.EventsByDirection[e.Direction]++

	if s.TotalEvents == 1 || e.Timestamp.Before(s.TimeRange.Start) {
		s.TimeRange.Start = e.Timestamp
	}
	if e.Timestamp.After(s.TimeRange.End) {
		s.TimeRange.End = e.Timestamp
	}

	c := s.Connections[e.ConnectionID]
	if c == nil {
		c = &ConnectionStats{FirstSeen: e.Timestamp, LastSeen: e.Timestamp, Role: e.LocalRole}
		s.Connections[e.ConnectionID] = c
	}
	c.Events++
	if e.Timestamp.After(c.LastSeen) {
		c.LastSeen = e.Timestamp
	}
	c.RemoteAddr = cmp.Or(c.RemoteAddr, e.RemoteAddr)
	c.DeviceID = cmp.Or(c.DeviceID, e.DeviceID)
	c.OrganizationID = cmp.Or(c.OrganizationID, e.OrganizationID)

	switch {
	case e.Handshake != nil:
		if r := e.Handshake.Result; r != "" {
			c.Result = r
			s.HandshakeResults[r]++
		}
	case e.Message != nil:
		if e.Message.Type == log.MessageTypeRequest {
			s.Commands[e.Message.Cmd]++
		}
	case e.ControlMsg != nil:
		c.Pings += boolInt(e.ControlMsg.Type == log.ControlMsgPing)
		c.Closed = c.Closed || e.ControlMsg.Type == log.ControlMsgClose
	case e.Error != nil:
		s.Errors++
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// RunStats prints a summary of the capture at path.
func RunStats(path string, w io.Writer) error {
	stats, err := CollectStats(path)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 1, ' ', 0)
	stats.print(tw)
	return tw.Flush()
}

// countTable prints title followed by the non-zero counts of keys, in the
// given order.
func countTable[K comparable](w io.Writer, title string, counts map[K]int, keys []K, name func(K) string) {
	fmt.Fprintf(w, "\n%s\n", title)
	for _, k := range keys {
		if n := counts[k]; n > 0 {
			fmt.Fprintf(w, "  %s:\t%d\n", name(k), n)
		}
	}
}

func (s *Stats) print(w io.Writer) {
	fmt.Fprintln(w, "=== Cirrus Protocol Log Statistics ===")
	if s.TotalEvents > 0 {
		fmt.Fprintf(w, "\nTime Range:\t%s to %s\n", s.TimeRange.Start.Format(time.RFC3339), s.TimeRange.End.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:\t%s\n", s.TimeRange.End.Sub(s.TimeRange.Start).Round(time.Second))
	}
	fmt.Fprintf(w, "\nTotal Events: %d\n", s.TotalEvents)

	countTable(w, "Events by Layer:", s.EventsByLayer,
		[]log.Layer{log.LayerTransport, log.LayerHandshake, log.LayerApplication}, log.Layer.String)
	countTable(w, "Events by Category:", s.EventsByCategory,
		[]log.Category{log.CategoryMessage, log.CategoryControl, log.CategoryState, log.CategoryError}, log.Category.String)
	countTable(w, "Events by Direction:", s.EventsByDirection,
		[]log.Direction{log.DirectionIn, log.DirectionOut}, log.Direction.String)

	identity := func(k string) string { return k }
	if len(s.HandshakeResults) > 0 {
		countTable(w, "Handshake Results:", s.HandshakeResults, slices.Sorted(maps.Keys(s.HandshakeResults)), identity)
	}
	if len(s.Commands) > 0 {
		countTable(w, "Commands:", s.Commands, slices.Sorted(maps.Keys(s.Commands)), identity)
	}

	fmt.Fprintf(w, "\nConnections: %d\n", len(s.Connections))
	ids := slices.SortedFunc(maps.Keys(s.Connections), func(a, b string) int {
		return s.Connections[a].FirstSeen.Compare(s.Connections[b].FirstSeen)
	})
	for _, id := range ids {
		c := s.Connections[id]
		fmt.Fprintf(w, "\n  [%s] %s %d events, duration %s\n",
			shortID(id), c.Role, c.Events, c.LastSeen.Sub(c.FirstSeen).Round(time.Millisecond))

		pings := ""
		if c.Pings > 0 {
			pings = strconv.Itoa(c.Pings)
		}
		for _, f := range []field{
			{"Remote", c.RemoteAddr},
			{"Identity", identityLabel(log.Event{DeviceID: c.DeviceID, OrganizationID: c.OrganizationID})},
			{"Handshake", c.Result},
			{"Pings", pings},
		} {
			if f.value != "" {
				fmt.Fprintf(w, "      %s: %s\n", f.label, f.value)
			}
		}
		if c.Closed {
			fmt.Fprintln(w, "      Closed")
		}
	}

	if s.Errors > 0 {
		fmt.Fprintf(w, "\nErrors: %d\n", s.Errors)
	}
}
