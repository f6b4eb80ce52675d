package presence

import "testing"

func TestSanitizeKVKey_ReplacesColons(t *testing.T) {
	cases := map[string]string{
		"colyseus:nodes":     "colyseus_nodes",
		"c:lobby":            "c_lobby",
		"counter.c:lobby":    "counter.c_lobby",
		"roomcount":          "roomcount",
		"already-safe.key_1": "already-safe.key_1",
	}
	for in, want := range cases {
		if got := sanitizeKVKey(in); got != want {
			t.Errorf("sanitizeKVKey(%q) = %q, want %q", in, got, want)
		}
	}
}
