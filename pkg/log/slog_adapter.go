package log

import (
	"context"
	"log/slog"
)

// SlogAdapter renders protocol events as slog records. Events are logged
// at Debug, except error events which are logged at Warn.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter returns an adapter writing to logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

func (a *SlogAdapter) Log(event Event) {
	level := slog.LevelDebug
	if event.Error != nil {
		level = slog.LevelWarn
	}
	ctx := context.Background()
	if !a.logger.Enabled(ctx, level) {
		return
	}

	attrs := []slog.Attr{
		slog.String("conn_id", event.ConnectionID),
		slog.String("role", event.LocalRole.String()),
		slog.String("dir", event.Direction.String()),
		slog.String("layer", event.Layer.String()),
		slog.String("category", event.Category.String()),
	}
	attrs = appendNonEmpty(attrs, "device_id", event.DeviceID)
	attrs = appendNonEmpty(attrs, "org_id", event.OrganizationID)
	if p := payloadGroup(event); p.Key != "" {
		attrs = append(attrs, p)
	}

	a.logger.LogAttrs(ctx, level, "protocol", attrs...)
}

// payloadGroup returns the set payload as a named attribute group.
func payloadGroup(event Event) slog.Attr {
	var attrs []slog.Attr
	switch {
	case event.Frame != nil:
		attrs = append(attrs, slog.Int("size", event.Frame.Size))
		if event.Frame.Truncated {
			attrs = append(attrs, slog.Bool("truncated", true))
		}
		return slog.Attr{Key: "frame", Value: slog.GroupValue(attrs...)}

	case event.Handshake != nil:
		h := event.Handshake
		attrs = append(attrs, slog.String("step", h.Step))
		attrs = appendNonEmpty(attrs, "answer", h.AnswerType)
		attrs = appendNonEmpty(attrs, "result", h.Result)
		attrs = appendNonEmpty(attrs, "api_version", h.APIVersion)
		return slog.Attr{Key: "handshake", Value: slog.GroupValue(attrs...)}

	case event.Message != nil:
		m := event.Message
		attrs = append(attrs, slog.String("type", m.Type.String()))
		attrs = appendNonEmpty(attrs, "cmd", m.Cmd)
		attrs = appendNonEmpty(attrs, "status", m.Status)
		attrs = appendNonEmpty(attrs, "reason", m.Reason)
		if m.ProcessingTime != nil {
			attrs = append(attrs, slog.Duration("took", *m.ProcessingTime))
		}
		return slog.Attr{Key: "msg", Value: slog.GroupValue(attrs...)}

	case event.StateChange != nil:
		s := event.StateChange
		attrs = append(attrs, slog.String("entity", s.Entity.String()))
		attrs = appendNonEmpty(attrs, "from", s.OldState)
		attrs = append(attrs, slog.String("to", s.NewState))
		attrs = appendNonEmpty(attrs, "reason", s.Reason)
		return slog.Attr{Key: "state", Value: slog.GroupValue(attrs...)}

	case event.ControlMsg != nil:
		attrs = append(attrs, slog.String("type", event.ControlMsg.Type.String()))
		if seq := event.ControlMsg.Sequence; seq != 0 {
			attrs = append(attrs, slog.Uint64("seq", uint64(seq)))
		}
		return slog.Attr{Key: "control", Value: slog.GroupValue(attrs...)}

	case event.Error != nil:
		e := event.Error
		attrs = append(attrs,
			slog.String("layer", e.Layer.String()),
			slog.String("msg", e.Message),
		)
		attrs = appendNonEmpty(attrs, "kind", e.Kind)
		attrs = appendNonEmpty(attrs, "context", e.Context)
		return slog.Attr{Key: "error", Value: slog.GroupValue(attrs...)}
	}
	return slog.Attr{}
}

func appendNonEmpty(attrs []slog.Attr, key, value string) []slog.Attr {
	if value == "" {
		return attrs
	}
	return append(attrs, slog.String(key, value))
}

var _ Logger = (*SlogAdapter)(nil)
