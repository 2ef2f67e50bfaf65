// Package fingerprint derives the cache identity of a tool invocation.
//
// Two requests with semantically identical tool+parameters must map to the
// same fingerprint regardless of map iteration order, numeric formatting,
// or surrounding whitespace in values. Requests carrying values that only
// exist for one run (generated temp paths, random session IDs) get a
// sentinel fingerprint that never matches anything, including itself.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const uncacheablePrefix = "uncacheable:"

// Fingerprint is a deterministic digest over tool name + canonicalized
// parameters, used as the result cache key.
type Fingerprint string

// Cacheable reports whether this fingerprint may be used as a cache key.
func (f Fingerprint) Cacheable() bool {
	return f != "" && !strings.HasPrefix(string(f), uncacheablePrefix)
}

func (f Fingerprint) String() string {
	return string(f)
}

// Uncacheable returns a sentinel fingerprint that always misses. Each call
// returns a distinct value so two uncacheable requests never collide.
func Uncacheable() Fingerprint {
	return Fingerprint(uncacheablePrefix + uuid.NewString())
}

// Compute builds the fingerprint for an invocation of tool with params.
// setParams names the parameters the tool catalog declares set-valued;
// list values for those are deduplicated before hashing. All other list
// values keep their order, since flag ordering is meaningful for most CLIs.
func Compute(tool string, params map[string]any, setParams map[string]bool) Fingerprint {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	h.Write([]byte(tool))
	h.Write([]byte{0})

	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(canonicalValue(params[k], setParams[k])))
		h.Write([]byte{0x1f})
	}

	return Fingerprint(hex.EncodeToString(h.Sum(nil)))
}

// canonicalValue renders a parameter value in canonical textual form.
func canonicalValue(v any, isSet bool) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.FormatInt(int64(val), 10)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint:
		return strconv.FormatUint(uint64(val), 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case float32:
		return canonicalFloat(float64(val))
	case float64:
		return canonicalFloat(val)
	case []string:
		items := make([]any, len(val))
		for i, s := range val {
			items[i] = s
		}
		return canonicalList(items, isSet)
	case []any:
		return canonicalList(val, isSet)
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", val))
	}
}

// canonicalFloat renders floats so 1.0 and 1 hash identically.
func canonicalFloat(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// canonicalList renders list values order-preserved, deduplicated only
// for set-valued parameters.
func canonicalList(items []any, isSet bool) string {
	parts := make([]string, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		s := canonicalValue(item, false)
		if isSet && seen[s] {
			continue
		}
		seen[s] = true
		parts = append(parts, s)
	}
	return "[" + strings.Join(parts, "\x1e") + "]"
}
