package events

// EventType represents different event types
type EventType string

const (
	// Listing events
	ListingIngested  EventType = "LISTING_INGESTED"
	ListingValuated  EventType = "LISTING_VALUATED"
	ListingSold      EventType = "LISTING_SOLD"
	ListingsArchived EventType = "LISTINGS_ARCHIVED"

	// Market data events
	ComparablesRefreshed EventType = "COMPARABLES_REFRESHED"

	// Alert events
	AlertMatched EventType = "ALERT_MATCHED"

	// Snipe events
	SnipeScheduled    EventType = "SNIPE_SCHEDULED"
	SnipeTransitioned EventType = "SNIPE_TRANSITIONED"

	// System events
	LedgerMismatch  EventType = "LEDGER_MISMATCH"
	BackupCompleted EventType = "BACKUP_COMPLETED"
	ErrorOccurred   EventType = "ERROR_OCCURRED"
)

// AllTypes lists every event type a live stream may subscribe to
var AllTypes = []EventType{
	ListingIngested,
	ListingValuated,
	ListingSold,
	ListingsArchived,
	ComparablesRefreshed,
	AlertMatched,
	SnipeScheduled,
	SnipeTransitioned,
	LedgerMismatch,
	BackupCompleted,
	ErrorOccurred,
}
