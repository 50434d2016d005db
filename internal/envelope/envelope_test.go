package envelope

import (
	"errors"
	"testing"
	"time"
)

func TestValidate_RequiredFields(t *testing.T) {
	base := Envelope{
		Operation:    OpCreate,
		TenantID:     "biz1",
		LocationID:   "loc1",
		ResourceType: "appointment",
	}

	if err := base.Validate(); err != nil {
		t.Fatalf("valid create rejected: %v", err)
	}

	e := base
	e.TenantID = "  "
	if err := e.Validate(); !errors.Is(err, ErrMissingTenant) {
		t.Fatalf("expected ErrMissingTenant, got %v", err)
	}

	e = base
	e.LocationID = ""
	if err := e.Validate(); !errors.Is(err, ErrMissingLocation) {
		t.Fatalf("expected ErrMissingLocation, got %v", err)
	}

	e = base
	e.ResourceType = ""
	if err := e.Validate(); !errors.Is(err, ErrMissingResourceType) {
		t.Fatalf("expected ErrMissingResourceType, got %v", err)
	}

	e = base
	e.Operation = "upsert"
	if err := e.Validate(); !errors.Is(err, ErrUnknownOperation) {
		t.Fatalf("expected ErrUnknownOperation, got %v", err)
	}
}

func TestValidate_MutationsRequireResourceID(t *testing.T) {
	for _, op := range []Op{OpUpdate, OpPatch, OpDelete} {
		e := Envelope{
			Operation:    op,
			TenantID:     "biz1",
			LocationID:   "loc1",
			ResourceType: "appointment",
		}
		if err := e.Validate(); !errors.Is(err, ErrMissingResourceID) {
			t.Fatalf("%s without resourceId: expected ErrMissingResourceID, got %v", op, err)
		}
		e.ResourceID = "ap2401-00001"
		if err := e.Validate(); err != nil {
			t.Fatalf("%s with resourceId rejected: %v", op, err)
		}
	}
}

func TestPartitionKey(t *testing.T) {
	e := Envelope{TenantID: "biz1", LocationID: "loc1"}
	if got := e.PartitionKey(); got != "biz1-loc1" {
		t.Fatalf("partition key = %q", got)
	}
	e.ResourceType = "appointment"
	if got := e.PartitionKey(); got != "biz1-loc1-appointment" {
		t.Fatalf("partition key with type = %q", got)
	}
}

func TestBusinessDate_PriorityOrder(t *testing.T) {
	now := time.Date(2024, 6, 1, 10, 30, 0, 0, time.UTC)

	e := Envelope{Data: map[string]any{
		"appointmentDate": "2024-02-20",
		"date":            "2024-01-15",
	}}
	// "date" gana sobre "appointmentDate"
	got := e.BusinessDate(now)
	if got.Format("2006-01-02") != "2024-01-15" {
		t.Fatalf("business date = %s", got.Format("2006-01-02"))
	}

	e = Envelope{Data: map[string]any{"scheduledDate": "2024-03-09T14:00:00Z"}}
	if got := e.BusinessDate(now).Format("2006-01-02"); got != "2024-03-09" {
		t.Fatalf("business date from datetime = %s", got)
	}
}

func TestBusinessDate_Defaults(t *testing.T) {
	now := time.Date(2024, 6, 1, 10, 30, 0, 0, time.UTC)

	// sin campo de fecha
	e := Envelope{Data: map[string]any{"patientName": "X"}}
	if got := e.BusinessDate(now).Format("2006-01-02"); got != "2024-06-01" {
		t.Fatalf("default business date = %s", got)
	}

	// campo presente pero no parseable
	e = Envelope{Data: map[string]any{"date": "not-a-date"}}
	if got := e.BusinessDate(now).Format("2006-01-02"); got != "2024-06-01" {
		t.Fatalf("unparseable business date = %s", got)
	}

	// campo presente pero no string
	e = Envelope{Data: map[string]any{"date": 20240115}}
	if got := e.BusinessDate(now).Format("2006-01-02"); got != "2024-06-01" {
		t.Fatalf("non-string business date = %s", got)
	}
}

func TestMergeData(t *testing.T) {
	a := map[string]any{"a": 1, "shared": "old"}
	b := map[string]any{"b": 2, "shared": "new"}

	out := MergeData(a, b)
	if out["a"] != 1 || out["b"] != 2 {
		t.Fatalf("merge lost fields: %v", out)
	}
	if out["shared"] != "new" {
		t.Fatalf("merge is not last-writer-wins: %v", out["shared"])
	}
	// el mapa original no se muta
	if a["shared"] != "old" || len(a) != 2 {
		t.Fatalf("merge mutated input: %v", a)
	}
}

func TestDecodeEncode(t *testing.T) {
	raw := []byte(`{"operation":"create","tenantId":"biz1","locationId":"loc1",` +
		`"resourceType":"appointment","data":{"date":"2024-01-15"},"requestId":"r-1"}`)

	e, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if e.Operation != OpCreate || e.TenantID != "biz1" || e.Data["date"] != "2024-01-15" {
		t.Fatalf("decoded envelope mismatch: %+v", e)
	}

	if _, err := Decode([]byte("{not json")); err == nil {
		t.Fatal("expected decode error")
	}
}
