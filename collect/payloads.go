// Package collect defines the message payloads that flow between the
// catalog API, the collectors, and the merger.
package collect

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/c360studio/semstreams/message"
	"github.com/c360studio/semstreams/payloadregistry"

	"github.com/c360studio/storewatch/appstore"
)

// registry holds this package's payload registrations. The published
// semstreams payloadregistry exposes no process-global registry, so
// registrations live in a package-level instance.
var registry = payloadregistry.New()

func init() {
	err := registry.Register(&payloadregistry.Registration{
		Domain:      "appstore",
		Category:    "collect",
		Version:     "v1",
		Description: "Collection request dispatched to a source collector",
		Factory:     func() any { return &RequestPayload{} },
	})
	if err != nil {
		panic("failed to register RequestPayload: " + err.Error())
	}

	err = registry.Register(&payloadregistry.Registration{
		Domain:      "appstore",
		Category:    "records",
		Version:     "v1",
		Description: "Batch of normalized app records from one source",
		Factory:     func() any { return &RecordBatchPayload{} },
	})
	if err != nil {
		panic("failed to register RecordBatchPayload: " + err.Error())
	}
}

// ParsePayload parses a NATS message carrying a BaseMessage envelope
// and decodes its payload into T.
func ParsePayload[T any](data []byte) (*T, error) {
	var rawMsg struct {
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &rawMsg); err != nil {
		return nil, fmt.Errorf("unmarshal BaseMessage: %w", err)
	}
	if len(rawMsg.Payload) == 0 {
		return nil, fmt.Errorf("empty payload in BaseMessage")
	}

	var result T
	if err := json.Unmarshal(rawMsg.Payload, &result); err != nil {
		return nil, fmt.Errorf("unmarshal payload into %T: %w", result, err)
	}
	return &result, nil
}

// RequestType is the message type for collection requests.
var RequestType = message.Type{Domain: "appstore", Category: "collect", Version: "v1"}

// RecordBatchType is the message type for record batches.
var RecordBatchType = message.Type{Domain: "appstore", Category: "records", Version: "v1"}

// RequestPayload implements message.Payload for collection requests.
// Params carry source-specific options such as term, category, chart,
// country, or dataset name.
type RequestPayload struct {
	JobID       string            `json:"job_id"`
	Source      appstore.Source   `json:"source"`
	Params      map[string]string `json:"params,omitempty"`
	RequestedAt time.Time         `json:"requested_at"`
}

// Schema returns the message type for Payload interface.
func (p *RequestPayload) Schema() message.Type { return RequestType }

// Validate validates the payload for Payload interface.
func (p *RequestPayload) Validate() error {
	if p.JobID == "" {
		return errors.New("job ID is required")
	}
	if _, err := appstore.ParseSource(string(p.Source)); err != nil {
		return err
	}
	return nil
}

// Param returns a request parameter or a default.
func (p *RequestPayload) Param(key, def string) string {
	if v, ok := p.Params[key]; ok && v != "" {
		return v
	}
	return def
}

// MarshalJSON implements json.Marshaler.
func (p *RequestPayload) MarshalJSON() ([]byte, error) {
	type Alias RequestPayload
	return json.Marshal((*Alias)(p))
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *RequestPayload) UnmarshalJSON(data []byte) error {
	type Alias RequestPayload
	return json.Unmarshal(data, (*Alias)(p))
}

// RecordBatchPayload implements message.Payload for batches of
// collected records headed to the merger.
type RecordBatchPayload struct {
	JobID       string            `json:"job_id,omitempty"`
	Source      appstore.Source   `json:"source"`
	Records     []appstore.Record `json:"records"`
	CollectedAt time.Time         `json:"collected_at"`
}

// Schema returns the message type for Payload interface.
func (p *RecordBatchPayload) Schema() message.Type { return RecordBatchType }

// Validate validates the payload for Payload interface.
func (p *RecordBatchPayload) Validate() error {
	if _, err := appstore.ParseSource(string(p.Source)); err != nil {
		return err
	}
	if len(p.Records) == 0 {
		return errors.New("record batch is empty")
	}
	for i := range p.Records {
		if err := p.Records[i].Validate(); err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (p *RecordBatchPayload) MarshalJSON() ([]byte, error) {
	type Alias RecordBatchPayload
	return json.Marshal((*Alias)(p))
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *RecordBatchPayload) UnmarshalJSON(data []byte) error {
	type Alias RecordBatchPayload
	return json.Unmarshal(data, (*Alias)(p))
}
