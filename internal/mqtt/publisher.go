package mqtt

import (
	"encoding/json"

	"github.com/ibs-source/ledger-consumer/internal/queue"
	"github.com/ibs-source/ledger-consumer/pkg/jsonfast"
)

// encodeEvent renders ev as
// {"message_id":..,"stream":..,"disposition":..,"final":..,"outcome":..,"reason":..,"delivery_count":..,"body":..,"at":..}
// with outcome and reason omitted when empty. body is embedded only when it
// is valid JSON.
func encodeEvent(ev queue.Event) []byte {
	b := jsonfast.New(192 + len(ev.Reason) + len(ev.Body))
	b.BeginObject()
	b.AddStringField("message_id", ev.MessageID)
	b.AddStringField("stream", ev.Stream)
	b.AddStringField("disposition", string(ev.Disposition))
	b.AddBoolField("final", ev.Final())
	b.AddOptionalStringField("outcome", ev.Outcome)
	b.AddOptionalStringField("reason", ev.Reason)
	b.AddIntField("delivery_count", ev.DeliveryCount)
	if len(ev.Body) > 0 && json.Valid(ev.Body) {
		b.AddRawJSONField("body", ev.Body)
	}
	b.AddTimeRFC3339Field("at", ev.At)
	b.EndObject()
	return b.Bytes()
}
