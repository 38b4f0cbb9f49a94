// Package dispatch fans formatted messages out to notification channels.
package dispatch

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/dkozyrev/smswatch/internal/metrics"
	"github.com/dkozyrev/smswatch/internal/watch"
)

// Dispatcher delivers to every configured channel. Channels are
// independent: one channel failing, hanging on its own timeout, or
// panicking never blocks delivery to the others.
type Dispatcher struct {
	channels []watch.Channel
	logger   *zap.Logger
}

// New creates a dispatcher over the given channels.
func New(channels []watch.Channel, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{channels: channels, logger: logger}
}

// ChannelCount reports how many channels are wired.
func (d *Dispatcher) ChannelCount() int {
	return len(d.channels)
}

// Format renders one record as the notification text sent to every
// channel. The layout is stable so downstream consumers can parse it.
func Format(r watch.Record) string {
	var b strings.Builder
	b.WriteString("New message received\n")
	fmt.Fprintf(&b, "Time: %s\n", r.Timestamp)
	fmt.Fprintf(&b, "To: %s\n", r.Destination)
	fmt.Fprintf(&b, "From: %s\n", r.Source)
	if r.Client != "" {
		fmt.Fprintf(&b, "Client: %s\n", r.Client)
	}
	fmt.Fprintf(&b, "Text: %s", r.Content)
	return b.String()
}

// DeliverAll sends one record to every channel and reports each
// channel's outcome. Results come back in channel order.
func (d *Dispatcher) DeliverAll(ctx context.Context, r watch.Record) []watch.DeliveryResult {
	return d.broadcast(ctx, Format(r))
}

// Broadcast sends free-form text to every channel. Used for operational
// notices (startup, shutdown, session loss) rather than records.
func (d *Dispatcher) Broadcast(ctx context.Context, text string) []watch.DeliveryResult {
	return d.broadcast(ctx, text)
}

func (d *Dispatcher) broadcast(ctx context.Context, text string) []watch.DeliveryResult {
	results := make([]watch.DeliveryResult, 0, len(d.channels))
	for _, ch := range d.channels {
		err := d.send(ctx, ch, text)
		ok := err == nil
		metrics.ObserveDelivery(ch.Name(), ok)
		if !ok {
			d.logger.Warn("delivery failed",
				zap.String("channel", ch.Name()),
				zap.Error(err))
		}
		results = append(results, watch.DeliveryResult{
			Channel: ch.Name(),
			OK:      ok,
			Err:     err,
		})
	}
	return results
}

// send isolates a single channel call so a panicking channel
// implementation degrades to a failed delivery.
func (d *Dispatcher) send(ctx context.Context, ch watch.Channel, text string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("channel panic: %v", r)
		}
	}()
	return ch.Send(ctx, text)
}
