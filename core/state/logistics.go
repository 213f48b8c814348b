package state

import (
	"fmt"

	"agora/core/events"
	"agora/native/market"
)

// LogisticsRegistry stores the latest carrier status per tracking id, as
// reported by the oracle authority. Entries are keyed by the tracking id
// digest so raw ids never appear in state keys.
type LogisticsRegistry struct {
	manager *Manager
	emitter events.Emitter
}

// LogisticsRegistry returns the registry bound to the manager.
func (m *Manager) LogisticsRegistry() *LogisticsRegistry {
	return &LogisticsRegistry{manager: m, emitter: events.NoopEmitter{}}
}

func (r *LogisticsRegistry) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

func logisticsStatusKey(trackingID string) []byte {
	hash := market.TrackingKey(trackingID)
	return concatKey(logisticsStatusPrefix, hash.Bytes())
}

// SetStatus records status for trackingID on behalf of reporter.
func (r *LogisticsRegistry) SetStatus(reporter [20]byte, trackingID string, status market.DeliveryStatus) error {
	if trackingID == "" {
		return fmt.Errorf("logistics: tracking id required")
	}
	if status > market.StatusException {
		return fmt.Errorf("logistics: unknown status %d", status)
	}
	if err := r.manager.KVPut(logisticsStatusKey(trackingID), uint8(status)); err != nil {
		return err
	}
	r.emitter.Emit(events.LogisticsStatus{
		TrackingHash: market.TrackingKey(trackingID),
		Status:       uint8(status),
		Reporter:     reporter,
	})
	return nil
}

// QueryStatus returns the recorded status, or StatusNotFound when the id was
// never reported.
func (r *LogisticsRegistry) QueryStatus(trackingID string) (market.DeliveryStatus, error) {
	var raw uint8
	ok, err := r.manager.KVGet(logisticsStatusKey(trackingID), &raw)
	if err != nil {
		return market.StatusNotFound, err
	}
	if !ok {
		return market.StatusNotFound, nil
	}
	return market.DeliveryStatus(raw), nil
}
