package dbtypes

import "testing"

func TestScanJSONAcceptsBytesAndStrings(t *testing.T) {
	var fromBytes []string
	if err := ScanJSON([]byte(`["a","b"]`), &fromBytes); err != nil {
		t.Fatalf("scan bytes: %v", err)
	}
	if len(fromBytes) != 2 || fromBytes[1] != "b" {
		t.Fatalf("unexpected bytes result %v", fromBytes)
	}

	var fromString map[string]int
	if err := ScanJSON(`{"x":1}`, &fromString); err != nil {
		t.Fatalf("scan string: %v", err)
	}
	if fromString["x"] != 1 {
		t.Fatalf("unexpected string result %v", fromString)
	}
}

func TestScanJSONNilAndUnsupported(t *testing.T) {
	var dst []string
	if err := ScanJSON(nil, &dst); err != nil {
		t.Fatalf("nil scan should be a no-op: %v", err)
	}
	if dst != nil {
		t.Fatalf("expected dst untouched")
	}
	if err := ScanJSON(42, &dst); err == nil {
		t.Fatalf("expected unsupported type error")
	}
	if err := ScanJSON([]byte(`{`), &dst); err == nil {
		t.Fatalf("expected malformed json error")
	}
}
