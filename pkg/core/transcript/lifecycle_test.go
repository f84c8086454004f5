package transcript

import "testing"

func TestAdvance(t *testing.T) {
	cases := []struct {
		cur, want, expect Status
	}{
		{StatusPending, StatusInProgress, StatusInProgress},
		{StatusPending, StatusDone, StatusDone},
		{StatusInProgress, StatusPending, StatusInProgress},
		{StatusDone, StatusInProgress, StatusDone},
		{StatusDone, StatusPending, StatusDone},
		{StatusInProgress, "", StatusInProgress},
	}
	for _, tc := range cases {
		if got := Advance(tc.cur, tc.want); got != tc.expect {
			t.Fatalf("Advance(%s, %s)=%s, want %s", tc.cur, tc.want, got, tc.expect)
		}
	}
}

func TestMergeGuardrail_PassResolvesPending(t *testing.T) {
	cur := &Guardrail{Status: StatusInProgress, TestText: "hello"}
	got, changed := MergeGuardrail(cur, Guardrail{Status: StatusDone})
	if !changed {
		t.Fatalf("expected change")
	}
	if got.Category != GuardrailNone || got.Status != StatusDone {
		t.Fatalf("guardrail=%+v", got)
	}
	if got.TestText != "hello" {
		t.Fatalf("test text dropped: %+v", got)
	}
}

func TestMergeGuardrail_ViolationOverridesPassButNotViolation(t *testing.T) {
	passed := &Guardrail{Status: StatusDone, Category: GuardrailNone}
	got, changed := MergeGuardrail(passed, Guardrail{Status: StatusDone, Category: GuardrailOffBrand, Rationale: "Guardrail triggered"})
	if !changed || got.Category != GuardrailOffBrand {
		t.Fatalf("violation did not override pass: %+v changed=%v", got, changed)
	}

	again, changed := MergeGuardrail(got, Guardrail{Status: StatusDone, Category: GuardrailCategory("OTHER")})
	if changed || again.Category != GuardrailOffBrand {
		t.Fatalf("second violation replaced first: %+v", again)
	}

	back, changed := MergeGuardrail(got, Guardrail{Status: StatusInProgress})
	if changed || back.Status != StatusDone {
		t.Fatalf("guardrail moved backward: %+v", back)
	}

	pass, changed := MergeGuardrail(got, Guardrail{Status: StatusDone, Category: GuardrailNone})
	if changed || pass.Category != GuardrailOffBrand {
		t.Fatalf("pass replaced violation: %+v", pass)
	}
}

func TestMergeGuardrail_StartsWhenAbsent(t *testing.T) {
	got, changed := MergeGuardrail(nil, Guardrail{Status: StatusInProgress})
	if !changed || got.Status != StatusInProgress {
		t.Fatalf("guardrail=%+v changed=%v", got, changed)
	}
}
