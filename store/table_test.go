package store

import "testing"

func TestEncodeEntityJSONEncodesProperties(t *testing.T) {
	ref := Ref{Collection: "boards", ID: "b1"}
	data, err := encodeEntity(ref, Document{
		"name":           "retro",
		"votes":          4,
		"timerIsRunning": true,
		"timerStartTime": nil,
		"id":             "should-not-round-trip",
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	doc, _, err := decodeEntity(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc["id"] != "b1" {
		t.Fatalf("id should come from RowKey, got %#v", doc["id"])
	}
	if doc["name"] != "retro" {
		t.Fatalf("unexpected name: %#v", doc["name"])
	}
	if v, ok := doc["votes"].(float64); !ok || v != 4 {
		t.Fatalf("unexpected votes: %#v", doc["votes"])
	}
	if doc["timerIsRunning"] != true {
		t.Fatalf("unexpected timerIsRunning: %#v", doc["timerIsRunning"])
	}
	if doc["timerStartTime"] != nil {
		t.Fatalf("expected nil timerStartTime, got %#v", doc["timerStartTime"])
	}
}

func TestDecodeEntitySkipsReservedAndKeepsETag(t *testing.T) {
	raw := []byte(`{
		"PartitionKey": "boards",
		"RowKey": "b2",
		"Timestamp": "2024-01-01T00:00:00Z",
		"odata.etag": "W/\"datetime'2024-01-01'\"",
		"name": "\"planning\"",
		"legacy": "not json at all"
	}`)

	doc, etag, err := decodeEntity(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if etag == "" {
		t.Fatal("expected etag to be extracted")
	}
	if _, ok := doc["PartitionKey"]; ok {
		t.Fatalf("reserved property leaked into document: %#v", doc)
	}
	if doc["name"] != "planning" {
		t.Fatalf("unexpected name: %#v", doc["name"])
	}
	// Values that are not valid JSON are preserved verbatim.
	if doc["legacy"] != "not json at all" {
		t.Fatalf("unexpected legacy value: %#v", doc["legacy"])
	}
}

func TestBatchWriteRejectsMixedCollections(t *testing.T) {
	s := NewTableStore(nil, nil, nil)
	err := s.BatchWrite(t.Context(), []WriteOp{
		{Ref: Ref{Collection: "a", ID: "1"}},
		{Ref: Ref{Collection: "b", ID: "2"}},
	})
	if err != ErrMixedCollections {
		t.Fatalf("expected ErrMixedCollections, got %v", err)
	}
}
