package ident

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func TestStableID_Deterministic(t *testing.T) {
	a := StableID(KindEnv, "/opt/venvs/app/bin/python")
	b := StableID(KindEnv, "/opt/venvs/app/bin/python")
	if a != b {
		t.Fatalf("StableID not deterministic: %s != %s", a, b)
	}
	if len(a) != IDLength {
		t.Errorf("len = %d, want %d", len(a), IDLength)
	}
}

func TestStableID_MatchesDigest(t *testing.T) {
	sum := sha256.Sum256([]byte("base:/usr/local"))
	want := hex.EncodeToString(sum[:])[:IDLength]
	if got := StableID(KindBase, "/usr/local"); got != want {
		t.Errorf("StableID = %s, want %s", got, want)
	}
}

func TestStableID_NamespacesDiffer(t *testing.T) {
	if StableID(KindBase, "x") == StableID(KindEnv, "x") {
		t.Error("same key under different kinds should not collide")
	}
}

func TestStableID_DoesNotNormalize(t *testing.T) {
	if StableID(KindEnv, "/A/b") == StableID(KindEnv, "/a/b") {
		t.Error("StableID must hash the key verbatim")
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		name            string
		in              string
		caseInsensitive bool
		want            string
	}{
		{"empty", "", false, ""},
		{"whitespace only", "   ", false, ""},
		{"trailing slash", "/opt/py/", false, "/opt/py"},
		{"dot segments", "/opt/./py/../py", false, "/opt/py"},
		{"case kept", "/Users/Me/Py", false, "/Users/Me/Py"},
		{"case folded", "/Users/Me/Py", true, "/users/me/py"},
		{"root", "/", false, "/"},
		{"backslashes", `C:\Python311\python.exe`, true, "c:/python311/python.exe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizePath(tt.in, tt.caseInsensitive); got != tt.want {
				t.Errorf("NormalizePath(%q, %v) = %q, want %q", tt.in, tt.caseInsensitive, got, tt.want)
			}
		})
	}
}

func TestCaseInsensitiveOS(t *testing.T) {
	for goos, want := range map[string]bool{"linux": false, "darwin": true, "windows": true, "freebsd": false} {
		if got := CaseInsensitiveOS(goos); got != want {
			t.Errorf("CaseInsensitiveOS(%q) = %v, want %v", goos, got, want)
		}
	}
}

func TestEdgeID_DirectionMatters(t *testing.T) {
	if EdgeID("a", "USES_BASE", "b") == EdgeID("b", "USES_BASE", "a") {
		t.Error("edge ids must depend on direction")
	}
}
