// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "signaling"

var (
	OpenConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "open_connections",
		Help:      "WebSocket connections currently attached to this instance.",
	})

	InboundEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "inbound_events_total",
		Help:      "Client events received, by event name.",
	}, []string{"event"})

	OutboundDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "outbound_dropped_total",
		Help:      "Events dropped because a recipient's send queue was full.",
	})

	FanoutMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fanout_messages_total",
		Help:      "Cross-instance fan-out messages, by direction and result.",
	}, []string{"direction", "result"})

	JournalWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "journal_writes_total",
		Help:      "Session journal writes, by result.",
	}, []string{"result"})
)

// RoomStats is implemented by the room registry.
type RoomStats interface {
	Stats() (rooms, members int)
}

// ObserveRooms registers gauges that read room and member counts from src at
// scrape time.
func ObserveRooms(reg prometheus.Registerer, src RoomStats) error {
	rooms := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "rooms",
		Help:      "Rooms currently held by the registry.",
	}, func() float64 {
		n, _ := src.Stats()
		return float64(n)
	})
	members := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "room_members",
		Help:      "Room memberships across all rooms.",
	}, func() float64 {
		_, n := src.Stats()
		return float64(n)
	})

	for _, c := range []prometheus.Collector{rooms, members} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Handler exposes Prometheus metrics at /metrics
func Handler() http.Handler {
	return promhttp.Handler()
}
