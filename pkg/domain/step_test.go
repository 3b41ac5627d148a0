package domain

import "testing"

func TestStep_Kind(t *testing.T) {
	cases := []struct {
		name string
		tags []string
		want string
	}{
		{"single kind tag", []string{"kind:shell"}, "shell"},
		{"first match wins", []string{"kind:http", "kind:shell"}, "http"},
		{"other tags ignored", []string{"critical", "kind:memory", "team:infra"}, "memory"},
		{"no kind tag", []string{"critical"}, ""},
		{"no tags at all", nil, ""},
		{"empty kind name", []string{"kind:"}, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := &Step{ID: "s1", Tags: tc.tags}
			if got := s.Kind(); got != tc.want {
				t.Errorf("Kind() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestStatus_Terminal(t *testing.T) {
	if StepRunning.Terminal() || StepPaused.Terminal() || StepIdle.Terminal() {
		t.Error("non-terminal step statuses reported terminal")
	}
	for _, s := range []StepStatus{StepSucceeded, StepFailed, StepCancelled} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	if TaskBlocked.Terminal() {
		t.Error("blocked task reported terminal")
	}
	if !PlanCancelled.Terminal() || PlanRunning.Terminal() {
		t.Error("plan terminal classification wrong")
	}
}
