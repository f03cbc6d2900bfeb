package authsession

import (
	"io"

	"github.com/MrEthical07/authsession/internal/audit"
	"go.uber.org/zap"
)

// AuditEvent is one security event emitted by the Engine.
type AuditEvent = audit.Event

// AuditSink receives audit events asynchronously.
type AuditSink = audit.Sink

// NoOpSink discards audit events.
type NoOpSink = audit.NoOpSink

// ChannelSink exposes audit events on a channel.
type ChannelSink = audit.ChannelSink

// NewChannelSink returns a ChannelSink with the given buffer.
func NewChannelSink(buffer int) *ChannelSink { return audit.NewChannelSink(buffer) }

// NewJSONWriterSink writes one JSON object per event to w.
func NewJSONWriterSink(w io.Writer) AuditSink { return audit.NewJSONWriterSink(w) }

// NewZapSink logs audit events through log.
func NewZapSink(log *zap.Logger) AuditSink { return audit.NewZapSink(log) }
