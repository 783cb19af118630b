// Package canonical produces the deterministic byte encoding of an audit
// record used as hash input. Identical logical content always yields
// identical bytes, so an independent implementation can reproduce every
// digest in the chain.
//
// Encoding rules:
//   - fields appear in the fixed order listed in Encode, as name=value pairs
//     terminated by ';'
//   - '\', ';', '=', '{', '}', '[', ']', ',' and newline inside values are
//     escaped with a leading '\'
//   - nested maps are encoded as {k=v;...} with keys sorted lexicographically
//   - lists are encoded as [v,...] in element order
//   - timestamps are RFC 3339 with nanoseconds, in UTC
//   - integers are base-10; floats use the shortest decimal form that
//     round-trips; booleans are "true"/"false"; nil is "null"
package canonical

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"chainlog/internal/audit/models"
)

const timeLayout = time.RFC3339Nano

// Encode serializes every hashed field of the record, in declared order.
// Hash and PrevHash are excluded: Hash is the output, and PrevHash is
// concatenated by the chain engine after this encoding.
func Encode(r *models.Record) []byte {
	var b strings.Builder

	writeField(&b, "sequence", strconv.FormatUint(r.Sequence, 10))
	writeField(&b, "id", r.ID.String())
	writeField(&b, "timestamp", r.Timestamp.UTC().Format(timeLayout))
	writeField(&b, "eventType", string(r.EventType))
	writeField(&b, "severity", string(r.Severity))
	writeField(&b, "status", string(r.Status))
	writeField(&b, "userId", r.UserID)
	writeField(&b, "resource", r.Resource)
	writeField(&b, "action", r.Action)
	writeField(&b, "details", encodeMap(r.Details))
	writeField(&b, "ipAddress", r.IPAddress)
	writeField(&b, "userAgent", r.UserAgent)
	writeField(&b, "correlationId", r.CorrelationID)
	writeField(&b, "source", r.Source)
	writeField(&b, "metadata", encodeMap(r.Metadata))

	return []byte(b.String())
}

// EncodeMap renders a nested mapping with the same rules Encode applies to
// details and metadata. The exporter uses it to flatten structured cells.
func EncodeMap(m map[string]any) string {
	return encodeMap(m)
}

func writeField(b *strings.Builder, name, value string) {
	b.WriteString(name)
	b.WriteByte('=')
	b.WriteString(escape(value))
	b.WriteByte(';')
}

func encodeMap(m map[string]any) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(escape(k))
		b.WriteByte('=')
		b.WriteString(encodeValue(m[k]))
	}
	b.WriteByte('}')
	return b.String()
}

func encodeList(list []any) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range list {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(encodeValue(v))
	}
	b.WriteByte(']')
	return b.String()
}

// encodeValue renders one scalar or nested value. The type set mirrors what
// encoding/json produces when decoding into map[string]any, plus the integer
// types callers commonly supply directly.
func encodeValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return escape(val)
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.FormatInt(int64(val), 10)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case time.Time:
		return val.UTC().Format(timeLayout)
	case map[string]any:
		return encodeMap(val)
	case []any:
		return encodeList(val)
	case []string:
		list := make([]any, len(val))
		for i, s := range val {
			list[i] = s
		}
		return encodeList(list)
	default:
		// Fallback keeps encoding total; exotic types should be avoided in
		// details but must not panic the append path.
		return escape(fmt.Sprintf("%v", val))
	}
}

// escape prefixes structural characters with '\' so values containing them
// cannot collide with field boundaries.
func escape(s string) string {
	if !strings.ContainsAny(s, "\\;={}[],\n") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 4)
	for _, r := range s {
		switch r {
		case '\\', ';', '=', '{', '}', '[', ']', ',':
			b.WriteByte('\\')
			b.WriteRune(r)
		case '\n':
			b.WriteString(`\n`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
