// Package notify fans detected availability changes out to matching
// subscribers over email and SMS.
package notify

import (
	"context"
	"log/slog"
	"time"

	"visaslot-notifier/email"
	"visaslot-notifier/pkg/monitor"
	"visaslot-notifier/sms"
)

// SubscriberSource looks up subscribers watching a target, optionally
// filtered to a country.
type SubscriberSource interface {
	Subscribers(ctx context.Context, targetID, country string) ([]monitor.Subscriber, error)
}

// Result counts deliveries attempted in one dispatch call.
type Result struct {
	EmailsSent int
	SMSSent    int
	Failures   int
}

// Dispatcher routes change events to subscribers. Providers carry their own
// retry policy; a delivery that still fails is logged and dropped so one bad
// address never blocks the rest of the fan-out.
type Dispatcher struct {
	source SubscriberSource
	email  email.Provider
	sms    sms.Provider
	logger *slog.Logger
	now    func() time.Time
}

// DispatcherConfig wires a Dispatcher. Email or SMS may be nil when that
// channel is not configured.
type DispatcherConfig struct {
	Source SubscriberSource
	Email  email.Provider
	SMS    sms.Provider
	Logger *slog.Logger
	Now    func() time.Time
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Dispatcher{
		source: cfg.Source,
		email:  cfg.Email,
		sms:    cfg.SMS,
		logger: cfg.Logger,
		now:    now,
	}
}

// Dispatch sends notifications for all events detected at one target.
// Subscribers are matched per event on country and filtered to active
// subscriptions; lapsed or unrecognized plans get nothing.
func (d *Dispatcher) Dispatch(ctx context.Context, target monitor.Target, events []monitor.ChangeEvent) Result {
	var res Result
	now := d.now()

	for _, event := range events {
		subs, err := d.source.Subscribers(ctx, target.ID, event.Country)
		if err != nil {
			d.logger.Error("Subscriber lookup failed, skipping event",
				"target", target.ID,
				"country", event.Country,
				"error", err)
			res.Failures++
			continue
		}

		active := subs[:0:0]
		for _, sub := range subs {
			if sub.ActiveAt(now) {
				active = append(active, sub)
			}
		}
		if len(active) == 0 {
			d.logger.Debug("No active subscribers for change",
				"target", target.ID,
				"country", event.Country,
				"kind", event.Kind)
			continue
		}

		body := Compose(target, event)
		subject := Subject(target, event)
		smsBody := SMSBody(body)

		d.logger.Info("Dispatching change notification",
			"target", target.ID,
			"country", event.Country,
			"kind", event.Kind,
			"subscribers", len(active))

		for _, sub := range active {
			if sub.Email != "" && d.email != nil {
				if err := d.email.Send(ctx, sub.Email, subject, body); err != nil {
					d.logger.Error("Email notification failed",
						"to", sub.Email,
						"target", target.ID,
						"error", err)
					res.Failures++
				} else {
					res.EmailsSent++
				}
			}
			if sub.Phone != "" && d.sms != nil {
				if err := d.sms.Send(ctx, sub.Phone, smsBody); err != nil {
					d.logger.Error("SMS notification failed",
						"to", sub.Phone,
						"target", target.ID,
						"error", err)
					res.Failures++
				} else {
					res.SMSSent++
				}
			}
		}
	}
	return res
}
