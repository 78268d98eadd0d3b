package collab

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	roomsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "collab_rooms_active",
		Help: "Rooms currently loaded in memory",
	})

	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "collab_sessions_active",
		Help: "Sessions currently joined to a room",
	})

	roomLoadFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collab_room_load_failures_total",
		Help: "Joins rejected because the document could not be loaded",
	})

	operationsAccepted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collab_operations_total",
		Help: "Operations accepted by rooms",
	}, []string{"content_type"})

	staleOperations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collab_stale_operations_total",
		Help: "Messages dropped because the session had left its room",
	})

	sessionsKicked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collab_sessions_kicked_total",
		Help: "Sessions disconnected because their outbound queue was full",
	})

	persistWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collab_persist_writes_total",
		Help: "Debounced document writes",
	}, []string{"result"})

	titleWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collab_title_writes_total",
		Help: "Title writes to the document store",
	}, []string{"result"})

	eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collab_kafka_events_published_total",
		Help: "Document events delivered to kafka",
	}, []string{"event_type"})

	eventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collab_kafka_events_dropped_total",
		Help: "Document events dropped before reaching kafka",
	}, []string{"event_type", "reason"})
)
