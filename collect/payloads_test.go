package collect

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/c360studio/semstreams/message"

	"github.com/c360studio/storewatch/appstore"
)

func TestParsePayloadRoundTrip(t *testing.T) {
	p := &RequestPayload{
		JobID:  "job:abc",
		Source: appstore.SourceAPI,
		Params: map[string]string{"term": "chess"},
	}

	msg := message.NewBaseMessage(RequestType, p, "storewatch")
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}

	got, err := ParsePayload[RequestPayload](data)
	if err != nil {
		t.Fatalf("ParsePayload: %v", err)
	}
	if got.JobID != p.JobID || got.Source != p.Source {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.Params["term"] != "chess" {
		t.Errorf("params lost in round trip: %+v", got.Params)
	}
}

func TestParsePayloadErrors(t *testing.T) {
	if _, err := ParsePayload[RequestPayload]([]byte("not json")); err == nil {
		t.Error("expected error for invalid JSON")
	}
	if _, err := ParsePayload[RequestPayload]([]byte(`{"other":1}`)); err == nil {
		t.Error("expected error for missing payload")
	}
}

func TestRequestPayloadValidate(t *testing.T) {
	tests := []struct {
		name    string
		payload RequestPayload
		wantErr bool
	}{
		{
			name: "valid request",
			payload: RequestPayload{
				JobID:  "job:abc",
				Source: appstore.SourceAPI,
				Params: map[string]string{"term": "chess"},
			},
		},
		{
			name:    "missing job ID",
			payload: RequestPayload{Source: appstore.SourceAPI},
			wantErr: true,
		},
		{
			name:    "unknown source",
			payload: RequestPayload{JobID: "job:abc", Source: "csv"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.payload.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestRequestPayloadParam(t *testing.T) {
	p := RequestPayload{Params: map[string]string{"country": "tr", "term": ""}}

	if got := p.Param("country", "us"); got != "tr" {
		t.Errorf("Param(country) = %q, want tr", got)
	}
	if got := p.Param("term", "games"); got != "games" {
		t.Errorf("empty param should fall back, got %q", got)
	}
	if got := p.Param("missing", "def"); got != "def" {
		t.Errorf("missing param should fall back, got %q", got)
	}
}

func TestRecordBatchPayloadValidate(t *testing.T) {
	valid := appstore.Record{
		ID:          "123",
		Name:        "Chess",
		Source:      appstore.SourceAPI,
		CollectedAt: time.Now(),
	}

	t.Run("valid batch", func(t *testing.T) {
		p := RecordBatchPayload{
			Source:  appstore.SourceAPI,
			Records: []appstore.Record{valid},
		}
		if err := p.Validate(); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("empty batch", func(t *testing.T) {
		p := RecordBatchPayload{Source: appstore.SourceAPI}
		if err := p.Validate(); err == nil {
			t.Error("expected error for empty batch")
		}
	})

	t.Run("invalid record", func(t *testing.T) {
		bad := valid
		bad.ID = ""
		p := RecordBatchPayload{
			Source:  appstore.SourceAPI,
			Records: []appstore.Record{valid, bad},
		}
		if err := p.Validate(); err == nil {
			t.Error("expected error for invalid record")
		}
	})
}

func TestPayloadSchemas(t *testing.T) {
	if got := (&RequestPayload{}).Schema(); got != RequestType {
		t.Errorf("unexpected request schema: %+v", got)
	}
	if got := (&RecordBatchPayload{}).Schema(); got != RecordBatchType {
		t.Errorf("unexpected batch schema: %+v", got)
	}
}
