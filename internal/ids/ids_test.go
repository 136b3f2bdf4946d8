package ids

import "testing"

func TestNewIsSortableAndValid(t *testing.T) {
	a := New()
	b := New()
	if !Valid(a) || !Valid(b) {
		t.Fatalf("expected valid ids, got %q and %q", a, b)
	}
	if !(a < b) {
		t.Fatalf("expected monotonic ids, got %q then %q", a, b)
	}
	if Valid("not-an-id") {
		t.Fatal("expected garbage to be rejected")
	}
}
