// Package hub aggregates the outbound message streams of every
// registered connector into one output stream per message family.
//
// Consumers read a family's output channel once; connectors come and go
// underneath without the consumer noticing. Output channels are never
// closed: a hub with zero providers is a quiet hub, not a finished one.
package hub

import (
	"time"
)

// Family groups messages that share a consumer-facing schema.
type Family string

// Message families carried by the hub.
const (
	// FamilyConnectionStatus carries connector health transitions.
	FamilyConnectionStatus Family = "connection-status"

	// FamilyRawData carries near-real-time readings as the connector
	// received them.
	FamilyRawData Family = "raw-data"

	// FamilyConsentMarketDocument carries permission lifecycle
	// documents.
	FamilyConsentMarketDocument Family = "consent-market-document"

	// FamilyAccountingPointDocument carries metering-point master data.
	FamilyAccountingPointDocument Family = "accounting-point-document"

	// FamilyValidatedHistoricalData carries validated historical
	// readings delivered after the fact.
	FamilyValidatedHistoricalData Family = "validated-historical-data-document"
)

// Families returns every known family.
func Families() []Family {
	return []Family{
		FamilyConnectionStatus,
		FamilyRawData,
		FamilyConsentMarketDocument,
		FamilyAccountingPointDocument,
		FamilyValidatedHistoricalData,
	}
}

// Known reports whether f is a hub family.
func (f Family) Known() bool {
	switch f {
	case FamilyConnectionStatus, FamilyRawData, FamilyConsentMarketDocument,
		FamilyAccountingPointDocument, FamilyValidatedHistoricalData:
		return true
	default:
		return false
	}
}

// String returns the wire form of the family.
func (f Family) String() string { return string(f) }

// Message is one item on a family stream.
type Message struct {
	// MRID uniquely identifies the message; stamped by the hub on
	// forward when the provider left it empty.
	MRID string `json:"mrid"`

	// Family the message belongs to; stamped by the hub on forward.
	Family Family `json:"family"`

	// ProviderID names the connector that produced the message;
	// stamped by the hub on forward.
	ProviderID string `json:"provider_id"`

	// PermissionID ties data messages back to the permission they are
	// delivered under. Empty for connection-status messages.
	PermissionID string `json:"permission_id,omitempty"`

	// Payload is the family-specific document.
	Payload any `json:"payload"`

	// ReceivedAt is when the hub forwarded the message; stamped by the
	// hub when the provider left it zero.
	ReceivedAt time.Time `json:"received_at"`
}
