package toolsynth

import "testing"

func TestFlattenUnflattenRoundTrip(t *testing.T) {
	flat := Flatten("billing", "charge_card")
	if flat != "billing__charge_card" {
		t.Fatalf("unexpected flattened name: %s", flat)
	}
	ns, name, ok := Unflatten(flat)
	if !ok || ns != "billing" || name != "charge_card" {
		t.Fatalf("unflatten mismatch: ns=%s name=%s ok=%v", ns, name, ok)
	}
}

func TestUnflattenRejectsNameWithoutSeparator(t *testing.T) {
	if _, _, ok := Unflatten("no_separator_here"); ok {
		t.Fatal("expected ok=false for a name with no namespace separator")
	}
}
