package catalog

import "testing"

func TestKnown(t *testing.T) {
	tests := []struct {
		name      string
		eventType string
		want      bool
	}{
		{"catalog type", "course.published", true},
		{"payment type", "payment.succeeded", true},
		{"test event", TestEvent, true},
		{"unknown type", "course.exploded", false},
		{"empty", "", false},
		{"wildcard is not an event type", Wildcard, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Known(tt.eventType); got != tt.want {
				t.Errorf("Known(%q) = %v, want %v", tt.eventType, got, tt.want)
			}
		})
	}
}

func TestValidSubscription(t *testing.T) {
	if !ValidSubscription(Wildcard) {
		t.Error("ValidSubscription(wildcard) = false, want true")
	}
	if !ValidSubscription("user.created") {
		t.Error("ValidSubscription(user.created) = false, want true")
	}
	if ValidSubscription("nonsense.event") {
		t.Error("ValidSubscription(nonsense.event) = true, want false")
	}
}

func TestTypesCoversCatalog(t *testing.T) {
	types := Types()
	if len(types) != len(eventTypes) {
		t.Fatalf("Types() returned %d entries, want %d", len(types), len(eventTypes))
	}
	for _, typ := range types {
		if !Known(typ) {
			t.Errorf("Types() returned %q which Known() rejects", typ)
		}
	}
}
