package event

import "testing"

func TestTopic_Matches(t *testing.T) {
	tests := []struct {
		name    string
		topic   Topic
		pattern Topic
		want    bool
	}{
		{"exact match", "core:plugin:started", "core:plugin:started", true},
		{"exact mismatch", "core:plugin:started", "core:plugin:stopped", false},
		{"single wildcard segment", "core:plugin:started", "core:plugin:*", true},
		{"single wildcard wrong depth", "core:plugin:started", "core:*", false},
		{"multi wildcard", "core:plugin:started", "core:**", true},
		{"multi wildcard zero segments", "core", "core:**", true},
		{"bare star matches everything", "state:changed", "*", true},
		{"bare star matches single segment", "tick", "*", true},
		{"mid wildcard", "state:user:frustration:changed", "state:*:frustration:changed", true},
		{"prefix not enough", "core:plugin", "core:plugin:started", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.topic.Matches(tt.pattern); got != tt.want {
				t.Errorf("Topic(%q).Matches(%q) = %v, want %v", tt.topic, tt.pattern, got, tt.want)
			}
		})
	}
}

func TestTopic_IsValid(t *testing.T) {
	tests := []struct {
		topic Topic
		want  bool
	}{
		{"core:plugin:started", true},
		{"tick", true},
		{"", false},
		{":leading", false},
		{"trailing:", false},
		{"double::separator", false},
	}

	for _, tt := range tests {
		if got := tt.topic.IsValid(); got != tt.want {
			t.Errorf("Topic(%q).IsValid() = %v, want %v", tt.topic, got, tt.want)
		}
	}
}

func TestTopic_Child(t *testing.T) {
	if got := Topic("state").Child("changed"); got != "state:changed" {
		t.Errorf("Child = %q, want state:changed", got)
	}
	if got := Topic("").Child("tick"); got != "tick" {
		t.Errorf("Child on empty = %q, want tick", got)
	}
	if got := Join("core", "plugin", "started"); got != "core:plugin:started" {
		t.Errorf("Join = %q, want core:plugin:started", got)
	}
}
