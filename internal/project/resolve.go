// Package project maps a transcript file's absolute path to a stable
// project identity and deterministic collection name. It is called from
// both the ingestion engine and the retrieval engine, and must produce
// byte-identical output in both call sites: any divergence silently
// routes writes and reads to different collections.
package project

import (
	"crypto/md5"
	"encoding/hex"
	"path/filepath"
	"strings"
)

// maxRecursionDepth caps the mount-prefix-stripping recursion in Resolve so
// adversarial input can never cause runaway expansion.
const maxRecursionDepth = 4

// Provider suffixes appended to a collection id; stable per (name, provider).
const (
	SuffixLocal  = "_local"
	SuffixRemote = "_remote"

	ReflectionsCollection = "reflections"
)

// Identity is the pure-function output of Resolve.
type Identity struct {
	NormalizedName string
	CollectionID   string
}

// Resolve derives a project's normalized name and, given the active
// provider's suffix, its collection id. logMountPrefix is the configured
// container log-mount prefix; pass "" to disable that stripping step.
func Resolve(absPath, logMountPrefix, providerSuffix string) Identity {
	name := normalizedName(absPath, logMountPrefix, 0)
	return Identity{
		NormalizedName: name,
		CollectionID:   CollectionID(name, providerSuffix),
	}
}

// CollectionID derives conv_<hash8>+suffix from an already-normalized
// project name. Exposed separately so callers holding a cached normalized
// name (e.g. the retrieval engine resolving "project=foo" directly) don't
// need to re-run path normalization.
func CollectionID(normalizedName, providerSuffix string) string {
	sum := md5.Sum([]byte(normalizedName))
	return "conv_" + hex.EncodeToString(sum[:])[:8] + providerSuffix
}

func normalizedName(p, logMountPrefix string, depth int) string {
	if depth >= maxRecursionDepth {
		return lastComponent(p)
	}
	trimmed := strings.TrimRight(p, string(filepath.Separator))
	last := lastComponent(trimmed)

	if logMountPrefix != "" && strings.HasPrefix(trimmed, logMountPrefix) && strings.HasPrefix(last, "-") {
		return normalizedName(last, logMountPrefix, depth+1)
	}
	if strings.HasPrefix(last, "-") {
		return lastNonEmptyDashSegment(last)
	}
	// last doesn't look like an encoded project directory, so it may be a
	// conversation file sitting inside one (the common ingest call shape:
	// <root>/<encoded-project>/<conversation-id>.jsonl). Check the parent
	// before accepting last as the project name itself.
	parent := filepath.Dir(trimmed)
	if strings.HasPrefix(lastComponent(parent), "-") {
		return normalizedName(parent, logMountPrefix, depth+1)
	}
	return last
}

func lastComponent(p string) string {
	p = strings.TrimRight(p, string(filepath.Separator))
	return filepath.Base(p)
}

func lastNonEmptyDashSegment(encoded string) string {
	parts := strings.Split(encoded, "-")
	for i := len(parts) - 1; i >= 0; i-- {
		if parts[i] != "" {
			return parts[i]
		}
	}
	return encoded
}
