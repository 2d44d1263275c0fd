package state

import "testing"

func TestGetPath(t *testing.T) {
	tree := map[string]any{
		"a": map[string]any{
			"b": map[string]any{"c": 42},
			"s": "leaf",
		},
	}

	tests := []struct {
		path   string
		want   any
		wantOK bool
	}{
		{"a.b.c", 42, true},
		{"a.s", "leaf", true},
		{"a.missing", nil, false},
		{"a.s.deeper", nil, false},
		{"", nil, true}, // root resolves to the tree itself
	}

	for _, tt := range tests {
		got, ok := getPath(tree, tt.path)
		if ok != tt.wantOK {
			t.Errorf("getPath(%q) ok = %v, want %v", tt.path, ok, tt.wantOK)
			continue
		}
		if tt.path != "" && ok && got != tt.want {
			t.Errorf("getPath(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestSetPath_MergeAndReplace(t *testing.T) {
	tree := map[string]any{}
	setPath(tree, "cfg", map[string]any{"a": 1, "b": 2}, true)
	setPath(tree, "cfg", map[string]any{"b": 3}, true)

	if got, _ := getPath(tree, "cfg.a"); got != 1 {
		t.Errorf("merge lost cfg.a: %v", got)
	}
	if got, _ := getPath(tree, "cfg.b"); got != 3 {
		t.Errorf("cfg.b = %v, want 3", got)
	}

	setPath(tree, "cfg", map[string]any{"only": true}, false)
	if _, ok := getPath(tree, "cfg.a"); ok {
		t.Error("replace kept cfg.a")
	}
}

func TestSetPath_ClonesInput(t *testing.T) {
	input := map[string]any{"inner": map[string]any{"x": 1}}
	tree := map[string]any{}
	setPath(tree, "top", input, true)

	input["inner"].(map[string]any)["x"] = 99
	if got, _ := getPath(tree, "top.inner.x"); got != 1 {
		t.Errorf("caller mutation leaked into tree: %v", got)
	}
}

func TestDiffLeaves(t *testing.T) {
	old := map[string]any{
		"keep":   1,
		"change": "before",
		"gone":   true,
	}
	new := map[string]any{
		"keep":   1,
		"change": "after",
		"added":  []any{1, 2},
	}

	changed := diffLeaves(old, new)

	if len(changed) != 3 {
		t.Fatalf("got %d changed leaves, want 3: %v", len(changed), changed)
	}
	if changed["change"] != "after" {
		t.Errorf("change = %v, want after", changed["change"])
	}
	if v, present := changed["gone"]; !present || v != nil {
		t.Errorf("removed leaf gone = %v (present=%v), want nil", v, present)
	}
	if _, present := changed["keep"]; present {
		t.Error("unchanged leaf reported")
	}
}

func TestPathWithin(t *testing.T) {
	tests := []struct {
		watched, leaf string
		want          bool
	}{
		{"user", "user.name", true},
		{"user", "user", true},
		{"user", "username", false},
		{"user.name", "user", false},
		{"", "anything.at.all", true},
	}

	for _, tt := range tests {
		if got := pathWithin(tt.watched, tt.leaf); got != tt.want {
			t.Errorf("pathWithin(%q, %q) = %v, want %v", tt.watched, tt.leaf, got, tt.want)
		}
	}
}
