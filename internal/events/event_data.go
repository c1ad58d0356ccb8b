package events

import (
	"encoding/json"
	"time"
)

// EventData is the interface that all event data types must implement
// This allows for type-safe event data while maintaining flexibility
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// ListingIngestedData contains data for ListingIngested events
type ListingIngestedData struct {
	ListingID int64  `json:"listing_id"`
	URL       string `json:"url"`
	Source    string `json:"source"`
	Created   bool   `json:"created"`
}

// EventType returns the event type for ListingIngestedData
func (d *ListingIngestedData) EventType() EventType {
	return ListingIngested
}

// ListingValuatedData contains data for ListingValuated events.
// Prices are decimal strings.
type ListingValuatedData struct {
	ListingID     int64    `json:"listing_id"`
	URL           string   `json:"url"`
	Title         string   `json:"title"`
	BasePrice     string   `json:"base_price"`
	OldPrice      string   `json:"old_price"`
	NewPrice      string   `json:"new_price"`
	Adjustments   int      `json:"adjustments"`
	LowConfidence bool     `json:"low_confidence"`
	Warnings      []string `json:"warnings,omitempty"`
}

// EventType returns the event type for ListingValuatedData
func (d *ListingValuatedData) EventType() EventType {
	return ListingValuated
}

// ListingSoldData contains data for ListingSold events
type ListingSoldData struct {
	ListingID int64  `json:"listing_id"`
	Price     string `json:"price"`
	Source    string `json:"source,omitempty"`
}

// EventType returns the event type for ListingSoldData
func (d *ListingSoldData) EventType() EventType {
	return ListingSold
}

// ListingsArchivedData contains data for ListingsArchived events
type ListingsArchivedData struct {
	Count  int64     `json:"count"`
	Before time.Time `json:"before"`
}

// EventType returns the event type for ListingsArchivedData
func (d *ListingsArchivedData) EventType() EventType {
	return ListingsArchived
}

// ComparablesRefreshedData contains data for ComparablesRefreshed events
type ComparablesRefreshedData struct {
	Buckets  int     `json:"buckets"`
	Sales    int     `json:"sales"`
	Duration float64 `json:"duration"`
}

// EventType returns the event type for ComparablesRefreshedData
func (d *ComparablesRefreshedData) EventType() EventType {
	return ComparablesRefreshed
}

// AlertMatchedData contains data for AlertMatched events
type AlertMatchedData struct {
	AlertID          int64  `json:"alert_id"`
	MatchID          int64  `json:"match_id"`
	ListingID        int64  `json:"listing_id"`
	ListingTitle     string `json:"listing_title"`
	ListingPrice     string `json:"listing_price"`
	NotificationSent bool   `json:"notification_sent"`
}

// EventType returns the event type for AlertMatchedData
func (d *AlertMatchedData) EventType() EventType {
	return AlertMatched
}

// SnipeScheduledData contains data for SnipeScheduled events
type SnipeScheduledData struct {
	SnipeID   int64     `json:"snipe_id"`
	ListingID int64     `json:"listing_id,omitempty"`
	FireAt    time.Time `json:"fire_at"`
	MaxBid    string    `json:"max_bid"`
}

// EventType returns the event type for SnipeScheduledData
func (d *SnipeScheduledData) EventType() EventType {
	return SnipeScheduled
}

// SnipeTransitionedData contains data for SnipeTransitioned events
type SnipeTransitionedData struct {
	SnipeID    int64  `json:"snipe_id"`
	ListingID  int64  `json:"listing_id,omitempty"`
	From       string `json:"from"`
	To         string `json:"to"`
	Result     string `json:"result,omitempty"`
	FinalPrice string `json:"final_price,omitempty"`
}

// EventType returns the event type for SnipeTransitionedData
func (d *SnipeTransitionedData) EventType() EventType {
	return SnipeTransitioned
}

// LedgerMismatchData contains data for LedgerMismatch events
type LedgerMismatchData struct {
	ListingID int64  `json:"listing_id"`
	Stored    string `json:"stored"`
	Replayed  string `json:"replayed"`
}

// EventType returns the event type for LedgerMismatchData
func (d *LedgerMismatchData) EventType() EventType {
	return LedgerMismatch
}

// BackupCompletedData contains data for BackupCompleted events
type BackupCompletedData struct {
	Provider  string   `json:"provider"`
	Keys      []string `json:"keys"`
	SizeBytes int64    `json:"size_bytes"`
	Pruned    int      `json:"pruned"`
}

// EventType returns the event type for BackupCompletedData
func (d *BackupCompletedData) EventType() EventType {
	return BackupCompleted
}

// ErrorEventData contains data for ErrorOccurred events
type ErrorEventData struct {
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// EventType returns the event type for ErrorEventData
func (d *ErrorEventData) EventType() EventType {
	return ErrorOccurred
}

// EventWithData represents an event with typed data
type EventWithData struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Module    string    `json:"module"`
	Data      EventData `json:"data"`
}

// MarshalJSON customizes JSON serialization for EventWithData
func (e *EventWithData) MarshalJSON() ([]byte, error) {
	type Alias EventWithData
	aux := &struct {
		Data json.RawMessage `json:"data"`
		*Alias
	}{
		Alias: (*Alias)(e),
	}

	if e.Data != nil {
		dataBytes, err := json.Marshal(e.Data)
		if err != nil {
			return nil, err
		}
		aux.Data = dataBytes
	}

	return json.Marshal(aux)
}

// UnmarshalJSON customizes JSON deserialization for EventWithData
func (e *EventWithData) UnmarshalJSON(data []byte) error {
	type Alias EventWithData
	aux := &struct {
		Data json.RawMessage `json:"data"`
		*Alias
	}{
		Alias: (*Alias)(e),
	}

	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}

	if len(aux.Data) == 0 {
		return nil
	}

	var eventData EventData
	switch aux.Type {
	case ListingIngested:
		eventData = &ListingIngestedData{}
	case ListingValuated:
		eventData = &ListingValuatedData{}
	case ListingSold:
		eventData = &ListingSoldData{}
	case ListingsArchived:
		eventData = &ListingsArchivedData{}
	case ComparablesRefreshed:
		eventData = &ComparablesRefreshedData{}
	case AlertMatched:
		eventData = &AlertMatchedData{}
	case SnipeScheduled:
		eventData = &SnipeScheduledData{}
	case SnipeTransitioned:
		eventData = &SnipeTransitionedData{}
	case LedgerMismatch:
		eventData = &LedgerMismatchData{}
	case BackupCompleted:
		eventData = &BackupCompletedData{}
	case ErrorOccurred:
		eventData = &ErrorEventData{}
	default:
		eventData = &GenericEventData{Type: aux.Type}
	}

	if err := json.Unmarshal(aux.Data, eventData); err != nil {
		return err
	}
	e.Data = eventData
	return nil
}

// GenericEventData is a fallback for events that don't have a specific type
type GenericEventData struct {
	Type EventType              `json:"-"`
	Data map[string]interface{} `json:"-"`
}

// EventType returns the event type for GenericEventData
func (d *GenericEventData) EventType() EventType {
	return d.Type
}

// MarshalJSON customizes JSON serialization for GenericEventData
func (d *GenericEventData) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Data)
}

// UnmarshalJSON customizes JSON deserialization for GenericEventData
func (d *GenericEventData) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &d.Data)
}
