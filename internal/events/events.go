// Package events emits settlement lifecycle events to interested sinks.
//
// Emission is fire-and-forget: a slow or failing sink never blocks or
// fails the settlement that produced the event.
package events

import (
	"log/slog"
	"time"

	"github.com/workpact/workpact/internal/idgen"
	"github.com/workpact/workpact/internal/metrics"
)

// Event types.
const (
	TypeEscrowCaptured  = "escrow.captured"
	TypeEscrowReleased  = "escrow.released"
	TypeEscrowRefunded  = "escrow.refunded"
	TypeDisputeOpened   = "dispute.opened"
	TypeDisputeResolved = "dispute.resolved"
)

// Event is one settlement lifecycle event.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Sink receives emitted events. Publish must not block for long; the
// emitter calls it inline.
type Sink interface {
	Publish(event *Event)
}

// Emitter fans events out to sinks. All methods are safe on a nil
// receiver so wiring can leave it unset in tests.
type Emitter struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewEmitter creates an emitter fanning out to the given sinks.
func NewEmitter(logger *slog.Logger, sinks ...Sink) *Emitter {
	return &Emitter{sinks: sinks, logger: logger}
}

func (e *Emitter) emit(eventType string, data map[string]interface{}) {
	if e == nil {
		return
	}
	metrics.EventsEmittedTotal.WithLabelValues(eventType).Inc()
	event := &Event{
		ID:        idgen.WithPrefix("evt_"),
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}
	for _, s := range e.sinks {
		s.Publish(event)
	}
	if e.logger != nil {
		e.logger.Debug("event emitted", "type", eventType, "id", event.ID)
	}
}

// EmitEscrowCaptured emits an escrow.captured event.
func (e *Emitter) EmitEscrowCaptured(escrowID, engagementID string, grossAmount int64) {
	e.emit(TypeEscrowCaptured, map[string]interface{}{
		"escrowId":     escrowID,
		"engagementId": engagementID,
		"grossAmount":  grossAmount,
	})
}

// EmitEscrowReleased emits an escrow.released event.
func (e *Emitter) EmitEscrowReleased(escrowID, engagementID, trigger string, professionalAmount, firmPoolAmount, platformAmount int64) {
	e.emit(TypeEscrowReleased, map[string]interface{}{
		"escrowId":           escrowID,
		"engagementId":       engagementID,
		"trigger":            trigger,
		"professionalAmount": professionalAmount,
		"firmPoolAmount":     firmPoolAmount,
		"platformAmount":     platformAmount,
	})
}

// EmitEscrowRefunded emits an escrow.refunded event.
func (e *Emitter) EmitEscrowRefunded(escrowID, engagementID string, refundAmount int64, finalStatus string) {
	e.emit(TypeEscrowRefunded, map[string]interface{}{
		"escrowId":     escrowID,
		"engagementId": engagementID,
		"refundAmount": refundAmount,
		"finalStatus":  finalStatus,
	})
}

// EmitDisputeOpened emits a dispute.opened event.
func (e *Emitter) EmitDisputeOpened(disputeID, escrowID, raisedBy string) {
	e.emit(TypeDisputeOpened, map[string]interface{}{
		"disputeId": disputeID,
		"escrowId":  escrowID,
		"raisedBy":  raisedBy,
	})
}

// EmitDisputeResolved emits a dispute.resolved event.
func (e *Emitter) EmitDisputeResolved(disputeID, escrowID, resolution string, refundPercent int) {
	e.emit(TypeDisputeResolved, map[string]interface{}{
		"disputeId":     disputeID,
		"escrowId":      escrowID,
		"resolution":    resolution,
		"refundPercent": refundPercent,
	})
}
