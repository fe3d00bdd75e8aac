// Package notify implements the best-effort notification contract shared by
// the Reconciler, Indexer and Conductor (ZenFS spec §4.5, §6.6). The actual desktop
// transport that delivers notifications across the system/user-session
// privilege boundary is an external collaborator and out of scope here;
// this package only owns the seam a transport would attach to.
package notify

import (
	"fmt"

	"github.com/doromiert/zenfs/pkg/events"
)

// Urgency mirrors the freedesktop notification urgency levels.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyNormal   Urgency = "normal"
	UrgencyCritical Urgency = "critical"
)

// Notifier delivers a best-effort notification. Implementations must never
// block the caller and must never surface delivery failures — callers do not
// check a return value for that reason.
type Notifier interface {
	Notify(eventType events.EventType, title, message string, urgency Urgency, icon string)
}

// BrokerNotifier adapts the Notifier contract onto an events.Broker, letting
// any number of external listeners (the desktop-notification transport,
// logs, tests) subscribe without the core ever depending on them directly.
type BrokerNotifier struct {
	broker *events.Broker
}

// NewBrokerNotifier creates a notifier backed by the given broker. A nil
// broker is valid and makes every Notify call a silent no-op.
func NewBrokerNotifier(broker *events.Broker) *BrokerNotifier {
	return &BrokerNotifier{broker: broker}
}

// Notify implements Notifier.
func (n *BrokerNotifier) Notify(eventType events.EventType, title, message string, urgency Urgency, icon string) {
	if n == nil || n.broker == nil {
		return
	}
	n.broker.Publish(&events.Event{
		Type:    eventType,
		Message: fmt.Sprintf("%s: %s", title, message),
		Metadata: map[string]string{
			"title":   title,
			"urgency": string(urgency),
			"icon":    icon,
		},
	})
}
