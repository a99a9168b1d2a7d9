// Package ident assigns content-addressed identities to map nodes and edges.
//
// Every node and edge constructor goes through StableID, so identities are a
// pure function of a namespace tag and a normalized semantic key. They never
// depend on insertion order or wall-clock time.
package ident

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"runtime"
	"strings"
)

// IDLength is the number of hex characters kept from the digest.
const IDLength = 16

// Namespace tags.
const (
	KindBase = "base"
	KindEnv  = "env"
	KindTask = "task"
	KindRun  = "run"
	KindEdge = "e"
	KindSig  = "sig"
)

// StableID returns the truncated hex sha256 of kind + ":" + key.
// Callers normalize key first (see NormalizePath); StableID never alters it.
func StableID(kind, key string) string {
	sum := sha256.Sum256([]byte(kind + ":" + key))
	return hex.EncodeToString(sum[:])[:IDLength]
}

// EdgeID derives an edge identity from its endpoints and type.
func EdgeID(from, edgeType, to string) string {
	return StableID(KindEdge, from+"|"+edgeType+"|"+to)
}

// NormalizePath canonicalizes a filesystem path used as an identity key.
// Separators become forward slashes and trailing slashes are dropped. The
// path is lowercased only when caseInsensitive is set.
func NormalizePath(path string, caseInsensitive bool) string {
	p := strings.TrimSpace(path)
	if p == "" {
		return ""
	}
	p = filepath.ToSlash(filepath.Clean(p))
	p = strings.ReplaceAll(p, "\\", "/")
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	if caseInsensitive {
		p = strings.ToLower(p)
	}
	return p
}

// CaseInsensitiveFS reports whether the host platform's default filesystem
// treats paths case-insensitively.
func CaseInsensitiveFS() bool {
	return CaseInsensitiveOS(runtime.GOOS)
}

// CaseInsensitiveOS reports the filesystem case convention for goos.
func CaseInsensitiveOS(goos string) bool {
	switch goos {
	case "windows", "darwin", "ios":
		return true
	}
	return false
}
