package messaging

import (
	"encoding/json"
	"sync"
	"time"

	"crisis-monitor/pkg/metrics"
	"crisis-monitor/pkg/risk"
	"crisis-monitor/pkg/session"
	"crisis-monitor/pkg/util"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Routing keys used on the events exchange. Assessments are routed as
// assessment.<urgency>.
const (
	RoutingKeyAssessmentPrefix = "assessment."
	RoutingKeyEscalation       = "escalation"
	RoutingKeySessionEnded     = "session.ended"
)

// Event types carried in the envelope
const (
	EventAssessment   = "assessment"
	EventEscalation   = "escalation"
	EventSessionEnded = "session_ended"
)

// Publisher is the broker side of the event publisher
type Publisher interface {
	Publish(routingKey string, body []byte) error
	IsConnected() bool
}

// Event is the envelope published for every session event
type Event struct {
	EventID   string      `json:"event_id"`
	Type      string      `json:"type"`
	CallID    string      `json:"call_id"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

type outgoing struct {
	routingKey string
	event      Event
}

// EventPublisher forwards session events to a Publisher from a single
// background worker, so session callbacks never wait on the broker. Events
// that arrive while the queue is full are dropped and counted.
type EventPublisher struct {
	publisher Publisher
	logger    *logrus.Entry
	panics    *util.PanicHandler
	queue     chan outgoing
	now       func() time.Time

	// PublishAssessments controls whether routine assessments are sent;
	// escalations and session ends are always sent.
	PublishAssessments bool

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

// NewEventPublisher creates an event publisher with the given queue size
func NewEventPublisher(publisher Publisher, queueSize int, logger *logrus.Logger) *EventPublisher {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &EventPublisher{
		publisher:          publisher,
		logger:             logger.WithField("component", "event_publisher"),
		panics:             util.NewPanicHandler(logger),
		queue:              make(chan outgoing, queueSize),
		now:                time.Now,
		PublishAssessments: true,
	}
}

// Start launches the publishing worker
func (p *EventPublisher) Start() {
	p.wg.Add(1)
	p.panics.SafeGo("event_publisher", p.run)
}

// Stop stops accepting events and waits for queued events to be sent
func (p *EventPublisher) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
}

// OnAssessment implements session.Listener
func (p *EventPublisher) OnAssessment(a *risk.Assessment, info session.Info) {
	if !p.PublishAssessments {
		return
	}
	p.enqueue(RoutingKeyAssessmentPrefix+string(a.Urgency), EventAssessment, a.CallID, map[string]interface{}{
		"analysis":     a,
		"session_info": info,
	})
}

// OnEscalation implements session.Listener
func (p *EventPublisher) OnEscalation(a *risk.Assessment) {
	p.enqueue(RoutingKeyEscalation, EventEscalation, a.CallID, a)
}

// OnSessionEnded implements session.Listener
func (p *EventPublisher) OnSessionEnded(summary *session.Summary) {
	p.enqueue(RoutingKeySessionEnded, EventSessionEnded, summary.CallID, summary)
}

func (p *EventPublisher) enqueue(routingKey, eventType, callID string, data interface{}) {
	msg := outgoing{
		routingKey: routingKey,
		event: Event{
			EventID:   uuid.New().String(),
			Type:      eventType,
			CallID:    callID,
			Timestamp: p.now().UTC(),
			Data:      data,
		},
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return
	}

	select {
	case p.queue <- msg:
	default:
		metrics.RecordAMQPPublish(routingKey, "dropped")
		p.logger.WithFields(logrus.Fields{
			"call_id":     callID,
			"routing_key": routingKey,
		}).Warn("Event queue full, dropping event")
	}
}

func (p *EventPublisher) run() {
	defer p.wg.Done()
	for msg := range p.queue {
		p.deliver(msg)
	}
}

// deliver keeps the worker alive when a publisher panics on one event
func (p *EventPublisher) deliver(msg outgoing) {
	defer p.panics.Recover("event_publisher")
	p.send(msg)
}

func (p *EventPublisher) send(msg outgoing) {
	if !p.publisher.IsConnected() {
		metrics.RecordAMQPPublish(msg.routingKey, "disconnected")
		p.logger.WithField("routing_key", msg.routingKey).Debug("Broker unavailable, event not published")
		return
	}

	body, err := json.Marshal(msg.event)
	if err != nil {
		metrics.RecordAMQPPublish(msg.routingKey, "error")
		p.logger.WithError(err).Error("Failed to marshal event")
		return
	}

	if err := p.publisher.Publish(msg.routingKey, body); err != nil {
		metrics.RecordAMQPPublish(msg.routingKey, "error")
		p.logger.WithError(err).WithFields(logrus.Fields{
			"call_id":     msg.event.CallID,
			"routing_key": msg.routingKey,
		}).Warn("Failed to publish event")
		return
	}

	metrics.RecordAMQPPublish(msg.routingKey, "success")
	p.logger.WithFields(logrus.Fields{
		"call_id":     msg.event.CallID,
		"routing_key": msg.routingKey,
	}).Debug("Event published")
}
