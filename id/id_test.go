package id_test

import (
	"encoding/json"
	"testing"

	"github.com/keelhq/keel/id"
)

func TestNew_GeneratesPrefixedID(t *testing.T) {
	jobID := id.NewJobID()
	if jobID.IsNil() {
		t.Fatal("NewJobID returned nil ID")
	}
	if jobID.Prefix() != id.PrefixJob {
		t.Errorf("Prefix = %q, want %q", jobID.Prefix(), id.PrefixJob)
	}
	if jobID.String() == "" {
		t.Error("String returned empty for valid ID")
	}
}

func TestNew_UniquePerCall(t *testing.T) {
	a := id.NewJobID()
	b := id.NewJobID()
	if a == b {
		t.Errorf("two generated IDs are equal: %s", a)
	}
}

func TestParse_RoundTrip(t *testing.T) {
	orig := id.NewWorkerID()

	parsed, err := id.Parse(orig.String())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed != orig {
		t.Errorf("round trip mismatch: got %s, want %s", parsed, orig)
	}
}

func TestParse_Empty(t *testing.T) {
	if _, err := id.Parse(""); err == nil {
		t.Error("expected error for empty string")
	}
}

func TestParseWithPrefix_Mismatch(t *testing.T) {
	cronID := id.NewCronID()
	if _, err := id.ParseJobID(cronID.String()); err == nil {
		t.Error("expected prefix mismatch error parsing cron ID as job ID")
	}
}

func TestNil_Behavior(t *testing.T) {
	if !id.Nil.IsNil() {
		t.Error("Nil.IsNil() = false")
	}
	if id.Nil.String() != "" {
		t.Errorf("Nil.String() = %q, want empty", id.Nil.String())
	}
	if id.Nil.Prefix() != "" {
		t.Errorf("Nil.Prefix() = %q, want empty", id.Nil.Prefix())
	}
}

func TestJSON_RoundTrip(t *testing.T) {
	type wrapper struct {
		ID id.JobID `json:"id"`
	}

	orig := wrapper{ID: id.NewJobID()}
	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got wrapper
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.ID != orig.ID {
		t.Errorf("JSON round trip mismatch: got %s, want %s", got.ID, orig.ID)
	}
}

func TestScan_StringAndBytes(t *testing.T) {
	orig := id.NewJobID()

	var fromString id.ID
	if err := fromString.Scan(orig.String()); err != nil {
		t.Fatalf("Scan string: %v", err)
	}
	if fromString != orig {
		t.Errorf("Scan string mismatch: got %s, want %s", fromString, orig)
	}

	var fromBytes id.ID
	if err := fromBytes.Scan([]byte(orig.String())); err != nil {
		t.Fatalf("Scan bytes: %v", err)
	}
	if fromBytes != orig {
		t.Errorf("Scan bytes mismatch: got %s, want %s", fromBytes, orig)
	}

	var fromNil id.ID
	if err := fromNil.Scan(nil); err != nil {
		t.Fatalf("Scan nil: %v", err)
	}
	if !fromNil.IsNil() {
		t.Error("Scan(nil) should produce the Nil ID")
	}
}
