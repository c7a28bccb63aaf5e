package domain

import (
	"testing"
	"time"
)

func visualsWith(statuses ...Status) []Visual {
	out := make([]Visual, len(statuses))
	for i, s := range statuses {
		out[i] = Visual{Index: i, Type: "solo", Prompt: "p", Status: s}
	}
	return out
}

func TestAggregateStatus(t *testing.T) {
	cases := []struct {
		name     string
		visuals  []Visual
		expected Status
	}{
		{"all completed", visualsWith(StatusCompleted, StatusCompleted), StatusCompleted},
		{"partial", visualsWith(StatusCompleted, StatusFailed, StatusFailed), StatusCompleted},
		{"all failed", visualsWith(StatusFailed, StatusFailed, StatusFailed), StatusFailed},
		{"single failed", visualsWith(StatusFailed), StatusFailed},
		{"empty", nil, StatusFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := AggregateStatus(tc.visuals); got != tc.expected {
				t.Fatalf("AggregateStatus = %s, want %s", got, tc.expected)
			}
		})
	}
}

func TestRecomputeCountsAttemptedVisuals(t *testing.T) {
	gen := &Generation{Visuals: visualsWith(StatusCompleted, StatusFailed, StatusProcessing, StatusPending, StatusPending, StatusPending)}
	gen.Recompute()
	if gen.CompletedCount != 1 {
		t.Fatalf("CompletedCount = %d, want 1", gen.CompletedCount)
	}
	if gen.Progress != 33 {
		t.Fatalf("Progress = %d, want 33", gen.Progress)
	}

	allFailed := &Generation{Visuals: visualsWith(StatusFailed, StatusFailed)}
	allFailed.Recompute()
	if allFailed.Progress != 100 || allFailed.CompletedCount != 0 {
		t.Fatalf("unexpected counters: progress=%d completed=%d", allFailed.Progress, allFailed.CompletedCount)
	}
}

func TestResetIsIdempotent(t *testing.T) {
	now := time.Now()
	gen := &Generation{
		Status:      StatusCompleted,
		CompletedAt: &now,
		Error:       "boom",
		Visuals: []Visual{
			{Index: 0, Type: "duo", Prompt: "a", Status: StatusCompleted, ImageURL: "http://x/0.png", MimeType: "image/png", GeneratedAt: &now},
			{Index: 1, Type: "solo", Prompt: "b", Status: StatusFailed, Error: "provider down"},
		},
	}
	gen.Reset()
	first := gen.Clone()
	gen.Reset()

	if gen.Status != StatusPending || gen.CompletedAt != nil || gen.Error != "" {
		t.Fatalf("generation not reset: %+v", gen)
	}
	for i, v := range gen.Visuals {
		if v != first.Visuals[i] {
			t.Fatalf("visual %d differs after second reset: %+v vs %+v", i, v, first.Visuals[i])
		}
		if v.Status != StatusPending || v.ImageURL != "" || v.Error != "" || v.GeneratedAt != nil {
			t.Fatalf("visual %d not cleared: %+v", i, v)
		}
	}
	if gen.Visuals[0].Prompt != "a" || gen.Visuals[1].Type != "solo" {
		t.Fatalf("prompt/type must be retained: %+v", gen.Visuals)
	}
}

func TestCloneDoesNotAliasVisuals(t *testing.T) {
	gen := &Generation{Visuals: visualsWith(StatusPending)}
	clone := gen.Clone()
	clone.Visuals[0].Status = StatusCompleted
	if gen.Visuals[0].Status != StatusPending {
		t.Fatalf("clone mutated original visuals")
	}
}
