package events

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
)

// Manager handles event emission and logging
type Manager struct {
	bus *Bus
	log zerolog.Logger
}

// NewManager creates a new event manager publishing to bus
func NewManager(bus *Bus, log zerolog.Logger) *Manager {
	return &Manager{
		bus: bus,
		log: log.With().Str("service", "events").Logger(),
	}
}

// Bus returns the underlying bus
func (m *Manager) Bus() *Bus {
	return m.bus
}

// Emit emits an untyped event
func (m *Manager) Emit(eventType EventType, module string, data map[string]interface{}) {
	m.publish(&Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Module:    module,
		Data:      data,
	})
}

// EmitTyped emits an event carrying a typed payload. Data is also flattened
// into the generic map so stream consumers see plain JSON.
func (m *Manager) EmitTyped(eventType EventType, module string, data EventData) {
	event := &Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Module:    module,
		typed:     data,
	}

	if raw, err := json.Marshal(data); err == nil {
		var flat map[string]interface{}
		if json.Unmarshal(raw, &flat) == nil {
			event.Data = flat
		}
	}

	m.publish(event)
}

// EmitError emits an ErrorOccurred event
func (m *Manager) EmitError(module string, err error, context map[string]interface{}) {
	m.EmitTyped(ErrorOccurred, module, &ErrorEventData{
		Error:   err.Error(),
		Context: context,
	})
}

func (m *Manager) publish(event *Event) {
	m.log.Debug().
		Str("event_type", string(event.Type)).
		Str("module", event.Module).
		Msg("Event emitted")

	if m.bus != nil {
		m.bus.Publish(event)
	}
}
