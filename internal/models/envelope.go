package models

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Delivery is one inbound message handed over by the transport.
type Delivery struct {
	Key         []byte
	Payload     []byte
	Annotations Annotations

	// Transport position, used for logging and acknowledgement
	Topic     string
	Partition int
	Offset    int64

	ReceivedAt time.Time
}

// Envelope is the outbound unit: the inbound payload byte-for-byte plus the
// annotations computed for it.
type Envelope struct {
	// Correlation id, set once per inbound message
	ID string `json:"id"`

	// Output sink the envelope is forwarded to
	Output string `json:"output"`

	Key         []byte      `json:"key,omitempty"`
	Payload     []byte      `json:"payload"`
	Annotations Annotations `json:"annotations"`

	Device     string    `json:"device"`
	Violated   bool      `json:"violated"`
	ReceivedAt time.Time `json:"received_at"`
}

// deliveryNamespace scopes envelope ids derived from transport positions.
var deliveryNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("edgerelay.delivery"))

// EnvelopeID returns the correlation id for d. A delivery with a transport
// position always maps to the same id, so a redelivered message keeps it;
// one without a position gets a random id.
func EnvelopeID(d Delivery) string {
	if d.Topic == "" {
		return uuid.NewString()
	}
	position := d.Topic + "/" + strconv.Itoa(d.Partition) + "/" + strconv.FormatInt(d.Offset, 10)
	return uuid.NewSHA1(deliveryNamespace, []byte(position)).String()
}

// NewEnvelope creates an envelope for a delivery bound to the given output.
// The payload slice is carried as is and never re-serialized.
func NewEnvelope(output string, d Delivery) *Envelope {
	receivedAt := d.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}
	return &Envelope{
		ID:         EnvelopeID(d),
		Output:     output,
		Key:        d.Key,
		Payload:    d.Payload,
		ReceivedAt: receivedAt,
	}
}

// Annotate appends tags after the ones already present.
func (e *Envelope) Annotate(pairs ...Annotation) *Envelope {
	e.Annotations = append(e.Annotations, pairs...)
	return e
}
