package state

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// HashContent computes the canonical content hash for one descriptor body.
// JSON marshaling sorts map keys, so semantically identical documents hash
// identically regardless of source ordering.
func HashContent(content map[string]any) string {
	raw, err := json.Marshal(normalizeValue(content))
	if err != nil {
		// Content maps come from YAML/JSON decoding and always marshal;
		// an empty hash would corrupt diffing, so fail loudly.
		panic(fmt.Sprintf("state: hash content: %v", err))
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// HashDescriptor hashes identity and content together.
func HashDescriptor(d Descriptor) string {
	sum := sha256.Sum256([]byte(d.ID.String() + "\n" + HashContent(d.Content)))
	return hex.EncodeToString(sum[:])
}

// ComputeRevision derives the immutable snapshot id of one tree from its
// sorted (identity, content hash) pairs.
func ComputeRevision(t *Tree) Revision {
	ids := t.IDs()
	h := sha256.New()
	for _, id := range ids {
		d, _ := t.Get(id)
		fmt.Fprintf(h, "%s %s\n", id.String(), HashContent(d.Content))
	}
	return Revision(hex.EncodeToString(h.Sum(nil)))
}

// normalizeValue converts YAML-decoded values into JSON-marshalable shapes.
func normalizeValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeValue(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprintf("%v", k)] = normalizeValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = normalizeValue(t[i])
		}
		return out
	default:
		return v
	}
}

// SortedIDs orders identities deterministically for stable reporting.
func SortedIDs(in []ResourceID) []ResourceID {
	out := make([]ResourceID, len(in))
	copy(out, in)
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
