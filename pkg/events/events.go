package events

import (
	"sync"
	"time"

	"github.com/cuemby/corral/pkg/metrics"
	"github.com/cuemby/corral/pkg/types"
)

// EventKind represents the kind of event
type EventKind string

const (
	EventInstructionStarted      EventKind = "instruction:started"
	EventInstructionProgress     EventKind = "instruction:progress"
	EventInstructionCompleted    EventKind = "instruction:completed"
	EventInstructionFailed       EventKind = "instruction:failed"
	EventInstructionDeadLettered EventKind = "instruction:dead_lettered"
	EventInstructionRejected     EventKind = "instruction:rejected"
	EventHealthHealthy           EventKind = "health:healthy"
	EventHealthRecovering        EventKind = "health:recovering"
	EventHealthRecovered         EventKind = "health:recovered"
	EventHealthRecoveryFailed    EventKind = "health:recovery_failed"
	EventSessionStarted          EventKind = "session:started"
	EventSessionStopped          EventKind = "session:stopped"
	EventSessionError            EventKind = "session:error"
	EventAgentActivity           EventKind = "agent:activity"
	EventLifecycleError          EventKind = "lifecycle:error"
)

// Event is the envelope delivered to subscribers. Kind decides which of
// the optional payload fields are set.
type Event struct {
	ContainerID string             `json:"container_id"`
	Kind        EventKind          `json:"kind"`
	Timestamp   time.Time          `json:"timestamp"`
	JobID       string             `json:"job_id,omitempty"`
	Progress    *types.Progress    `json:"progress,omitempty"`
	Result      *types.JobResult   `json:"result,omitempty"`
	Session     *types.Session     `json:"session,omitempty"`
	Health      *types.HealthState `json:"health,omitempty"`
	Activity    *types.AgentRecord `json:"activity,omitempty"`
	AgentCount  *int               `json:"agent_count,omitempty"`
	Err         string             `json:"error,omitempty"`
}

// subscriptionDepth bounds each subscriber buffer. Overflow drops the
// oldest buffered event.
const subscriptionDepth = 1024

// Subscription receives matching events on C until unsubscribed
type Subscription struct {
	C chan *Event

	container string
	kinds     map[EventKind]bool
}

func (s *Subscription) matches(event *Event) bool {
	if s.container != "" && s.container != event.ContainerID {
		return false
	}
	if len(s.kinds) > 0 && !s.kinds[event.Kind] {
		return false
	}
	return true
}

// Broker manages event subscriptions and distribution
type Broker struct {
	subscribers map[*Subscription]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[*Subscription]bool),
		eventCh:     make(chan *Event, 100), // Buffer up to 100 events
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe registers interest in events for one container (empty string
// matches all containers) and an optional kind filter (no kinds matches
// all kinds). Events arrive on the returned subscription's C channel.
func (b *Broker) Subscribe(containerID string, kinds ...EventKind) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{
		C:         make(chan *Event, subscriptionDepth),
		container: containerID,
	}
	if len(kinds) > 0 {
		sub.kinds = make(map[EventKind]bool, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = true
		}
	}
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.subscribers[sub] {
		return
	}
	delete(b.subscribers, sub)
	close(sub.C)
}

// Publish publishes an event to all matching subscribers
func (b *Broker) Publish(event *Event) {
	// Set timestamp if not set
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	metrics.EventsPublished.WithLabelValues(string(event.Kind)).Inc()

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		if !sub.matches(event) {
			continue
		}
		select {
		case sub.C <- event:
		default:
			// Buffer full. Evict the oldest buffered event, then retry.
			select {
			case old := <-sub.C:
				metrics.EventsDropped.WithLabelValues(string(old.Kind)).Inc()
			default:
			}
			select {
			case sub.C <- event:
			default:
				metrics.EventsDropped.WithLabelValues(string(event.Kind)).Inc()
			}
		}
	}
}

// SubscriberCount returns the number of active subscriptions
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
