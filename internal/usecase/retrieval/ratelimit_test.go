package retrieval

import "testing"

func TestLimiter_AllowsBurstThenThrottles(t *testing.T) {
	l := NewLimiter(60, 3)

	for i := 0; i < 3; i++ {
		if !l.Allow("t1|10.0.0.1") {
			t.Fatalf("expected burst call %d allowed", i)
		}
	}
	if l.Allow("t1|10.0.0.1") {
		t.Error("expected call beyond burst throttled")
	}
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	l := NewLimiter(60, 1)

	if !l.Allow("t1|10.0.0.1") {
		t.Fatal("expected first caller allowed")
	}
	if l.Allow("t1|10.0.0.1") {
		t.Error("expected same caller throttled")
	}
	if !l.Allow("t1|10.0.0.2") {
		t.Error("expected different client address unaffected")
	}
	if !l.Allow("t2|10.0.0.1") {
		t.Error("expected different tenant unaffected")
	}
}
