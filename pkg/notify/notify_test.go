package notify

import (
	"testing"
	"time"

	"github.com/doromiert/zenfs/pkg/events"
	"github.com/stretchr/testify/require"
)

func TestBrokerNotifierDeliversToSubscriber(t *testing.T) {
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	n := NewBrokerNotifier(broker)
	n.Notify(events.EventDriveConnected, "roaming drive connected", "uuid=aaaa", UrgencyNormal, "drive-removable")

	select {
	case evt := <-sub:
		require.Equal(t, events.EventDriveConnected, evt.Type)
		require.Contains(t, evt.Message, "uuid=aaaa")
		require.Equal(t, "roaming drive connected", evt.Metadata["title"])
		require.Equal(t, string(UrgencyNormal), evt.Metadata["urgency"])
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for notification")
	}
}

func TestNilBrokerNotifierIsNoop(t *testing.T) {
	var n *BrokerNotifier
	require.NotPanics(t, func() {
		n.Notify(events.EventGateRemoved, "title", "message", UrgencyLow, "icon")
	})
}
