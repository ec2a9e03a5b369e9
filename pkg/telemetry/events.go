package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a recipe lifecycle notification.
type Event struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Type      string                 `json:"type"`
	BatchID   string                 `json:"batch_id,omitempty"`
	Recipe    string                 `json:"recipe,omitempty"`
	Message   string                 `json:"message"`
	Level     string                 `json:"level"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Event types published by the batch runner.
const (
	EventTypeBatchStarted    = "batch.started"
	EventTypeBatchCompleted  = "batch.completed"
	EventTypeRecipeStarted   = "recipe.started"
	EventTypeRecipeCompleted = "recipe.completed"
	EventTypeRecipeFailed    = "recipe.failed"
	EventTypeRecipeSkipped   = "recipe.skipped"
	EventTypePolicyViolation = "policy.violation"
)

// Event severity levels.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher fans events out to subscribers, optionally through a buffer
// drained by a single goroutine so delivery order matches publish order.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	mu          sync.RWMutex
	wg          sync.WaitGroup
	done        chan struct{}
	closeOnce   sync.Once
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}
	if cfg.BufferSize <= 0 {
		return nil, fmt.Errorf("event buffer size must be positive, got: %d", cfg.BufferSize)
	}

	ep := &EventPublisher{
		config: cfg,
		buffer: make(chan Event, cfg.BufferSize),
		done:   make(chan struct{}),
	}

	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if !ep.config.EnableAsync {
		ep.deliverEvent(event)
		return nil
	}

	select {
	case <-ep.done:
		return fmt.Errorf("event publisher stopped")
	default:
	}

	select {
	case ep.buffer <- event:
		return nil
	default:
		return fmt.Errorf("event buffer full, event %s dropped", event.Type)
	}
}

// PublishRecipeStarted publishes a recipe started event.
func (ep *EventPublisher) PublishRecipeStarted(batchID, recipe string) error {
	return ep.Publish(Event{
		Type:    EventTypeRecipeStarted,
		BatchID: batchID,
		Recipe:  recipe,
		Message: fmt.Sprintf("Recipe %s started", recipe),
		Level:   EventLevelInfo,
	})
}

// PublishRecipeCompleted publishes a recipe completed event.
func (ep *EventPublisher) PublishRecipeCompleted(batchID, recipe string, downloads int, duration time.Duration) error {
	return ep.Publish(Event{
		Type:    EventTypeRecipeCompleted,
		BatchID: batchID,
		Recipe:  recipe,
		Message: fmt.Sprintf("Recipe %s completed", recipe),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"downloads": downloads,
			"duration":  duration.Seconds(),
		},
	})
}

// PublishRecipeFailed publishes a recipe failed event.
func (ep *EventPublisher) PublishRecipeFailed(batchID, recipe, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeRecipeFailed,
		BatchID: batchID,
		Recipe:  recipe,
		Message: fmt.Sprintf("Recipe %s failed: %s", recipe, reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishRecipeSkipped publishes an event for a recipe blocked by a gate.
func (ep *EventPublisher) PublishRecipeSkipped(batchID, recipe, gate, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeRecipeSkipped,
		BatchID: batchID,
		Recipe:  recipe,
		Message: fmt.Sprintf("Recipe %s skipped by %s gate: %s", recipe, gate, reason),
		Level:   EventLevelWarning,
		Data: map[string]interface{}{
			"gate":   gate,
			"reason": reason,
		},
	})
}

// PublishPolicyViolation publishes a policy violation event.
func (ep *EventPublisher) PublishPolicyViolation(batchID, recipe, policyName, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypePolicyViolation,
		BatchID: batchID,
		Recipe:  recipe,
		Message: fmt.Sprintf("Policy violation on recipe %s: %s - %s", recipe, policyName, reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"policy": policyName,
			"reason": reason,
		},
	})
}

// Subscribe adds a new event subscriber. filter may be nil.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	if ep == nil {
		return
	}
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	for {
		select {
		case event := <-ep.buffer:
			ep.deliverEvent(event)
		case <-ep.done:
			for {
				select {
				case event := <-ep.buffer:
					ep.deliverEvent(event)
				default:
					return
				}
			}
		}
	}
}

func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown stops accepting events and waits for buffered ones to be delivered.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}

	ep.closeOnce.Do(func() { close(ep.done) })

	finished := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}
	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}
	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByRecipe creates a filter that only allows events for one recipe.
func FilterByRecipe(recipe string) EventFilter {
	return func(event Event) bool {
		return event.Recipe == recipe
	}
}
