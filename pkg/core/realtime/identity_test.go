package realtime

import "testing"

func TestResolver_ExplicitIDWins(t *testing.T) {
	r := NewResolver(nil)
	id, ok := r.Resolve(Ref{ItemID: "item_1", ResponseID: "resp_1"})
	if !ok || id != "item_1" {
		t.Fatalf("id=%q ok=%v, want item_1", id, ok)
	}
	id, _ = r.Resolve(Ref{ResponseID: "resp_1"})
	if id != "item_1" {
		t.Fatalf("response-only id=%q, want item_1", id)
	}
}

func TestResolver_FallbackIsNamespaced(t *testing.T) {
	r := NewResolver(nil)
	id, ok := r.Resolve(Ref{ResponseID: "abc"})
	if !ok || id != "resp:abc" || !IsFallbackID(id) {
		t.Fatalf("id=%q ok=%v", id, ok)
	}
	if IsFallbackID("abc") {
		t.Fatalf("explicit id reported as fallback")
	}
	if _, ok := r.Resolve(Ref{}); ok {
		t.Fatalf("empty ref resolved")
	}
}

func TestResolver_ExplicitIDAdoptsExistingFallbackRow(t *testing.T) {
	existing := map[string]bool{}
	r := NewResolver(func(id string) bool { return existing[id] })

	fb, _ := r.Resolve(Ref{ResponseID: "r9"})
	existing[fb] = true

	id, _ := r.Resolve(Ref{ItemID: "item_9", ResponseID: "r9"})
	if id != fb {
		t.Fatalf("explicit event id=%q, want fallback row %q", id, fb)
	}
	if got := r.Lookup("item_9"); got != fb {
		t.Fatalf("Lookup(item_9)=%q, want %q", got, fb)
	}
	if got, _ := r.Resolve(Ref{ItemID: "item_9"}); got != fb {
		t.Fatalf("later explicit-only id=%q, want %q", got, fb)
	}
}

func TestResolver_SecondItemInSameResponseStaysDistinct(t *testing.T) {
	r := NewResolver(nil)
	r.Resolve(Ref{ItemID: "item_a", ResponseID: "r1"})
	id, _ := r.Resolve(Ref{ItemID: "item_b", ResponseID: "r1"})
	if id != "item_b" {
		t.Fatalf("id=%q, want item_b", id)
	}
}

func TestNormalize_LegacyThenExplicitDeltasConverge(t *testing.T) {
	existing := map[string]bool{}
	n := NewNormalizer(NewResolver(func(id string) bool { return existing[id] }))

	ops := normalize(t, n, `{"type":"response.audio_transcript.delta","response_id":"r1","delta":"Hel"}`)
	legacy := ops[0].(StartItem).ItemID
	existing[legacy] = true

	ops = normalize(t, n, `{"type":"response.audio_transcript.delta","item_id":"item_1","response_id":"r1","delta":"lo"}`)
	if got := ops[0].(StartItem).ItemID; got != legacy {
		t.Fatalf("explicit delta id=%q, want %q", got, legacy)
	}
	ops = normalize(t, n, `{"type":"history_added","item":{"itemId":"item_1","type":"message","role":"assistant","status":"completed","content":[{"type":"audio","transcript":"Hello"}]}}`)
	if got := ops[0].(StartItem).ItemID; got != legacy {
		t.Fatalf("history id=%q, want %q", got, legacy)
	}
}

func TestResolver_OnlyFirstItemClaimsFallbackRow(t *testing.T) {
	existing := map[string]bool{}
	r := NewResolver(func(id string) bool { return existing[id] })

	fb, _ := r.Resolve(Ref{ResponseID: "r1"})
	existing[fb] = true

	if id, _ := r.Resolve(Ref{ItemID: "x1", ResponseID: "r1"}); id != fb {
		t.Fatalf("first item id=%q, want %q", id, fb)
	}
	if id, _ := r.Resolve(Ref{ItemID: "x2", ResponseID: "r1"}); id != "x2" {
		t.Fatalf("second item id=%q, want x2", id)
	}
	if id, _ := r.Resolve(Ref{ItemID: "x1", ResponseID: "r1"}); id != fb {
		t.Fatalf("first item again id=%q, want %q", id, fb)
	}
	if got := r.Lookup("x2"); got != "x2" {
		t.Fatalf("Lookup(x2)=%q, want x2", got)
	}
}
