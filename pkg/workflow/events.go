package workflow

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"

	"github.com/warden-labs/warden/pkg/contracts"
)

func newAuditEvent(t contracts.AuditEventType, rec *contracts.RequestRecord, at time.Time, detail map[string]string) contracts.AuditEvent {
	return contracts.AuditEvent{
		EventID:    uuid.New().String(),
		RequestID:  rec.Input.RequestID,
		Type:       t,
		Decision:   rec.Result.Decision,
		ReasonCode: rec.Result.ReasonCode,
		State:      rec.State,
		Tier:       rec.Result.Tier,
		Timestamp:  at.UTC(),
		Detail:     detail,
	}
}

func newLineageEvent(rec *contracts.RequestRecord, at time.Time) contracts.LineageEvent {
	event := contracts.LineageEvent{
		EventID:    uuid.New().String(),
		RequestID:  rec.Input.RequestID,
		State:      rec.State,
		Decision:   rec.Result.Decision,
		ReasonCode: rec.Result.ReasonCode,
		Timestamp:  at.UTC(),
	}
	event.ContentHash = lineageHash(event)
	return event
}

// lineageHash covers the event minus the hash field itself, canonical
// per RFC 8785 so re-verification is byte-stable.
func lineageHash(event contracts.LineageEvent) string {
	hashable := struct {
		RequestID  string                 `json:"request_id"`
		State      contracts.RequestState `json:"state"`
		Decision   contracts.Decision     `json:"decision"`
		ReasonCode string                 `json:"reason_code"`
		Timestamp  time.Time              `json:"timestamp"`
	}{
		RequestID:  event.RequestID,
		State:      event.State,
		Decision:   event.Decision,
		ReasonCode: event.ReasonCode,
		Timestamp:  event.Timestamp,
	}
	raw, err := json.Marshal(hashable)
	if err != nil {
		return ""
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:])
}
