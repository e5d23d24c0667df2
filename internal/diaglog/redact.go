package diaglog

import "strings"

const redacted = "[REDACTED]"

// sensitiveKeys match payload keys case-insensitively. Export sink
// credentials end up in payloads when a sink fails.
var sensitiveKeys = map[string]bool{
	"password":                true,
	"secret":                  true,
	"token":                   true,
	"auth":                    true,
	"authorization":           true,
	"b2_key":                  true,
	"azure_connection_string": true,
	"secret_access_key":       true,
	"session_token":           true,
}

// sensitiveSuffixes catch provider specific spellings such as
// "aws_secret_access_key" or "gcs_token".
var sensitiveSuffixes = []string{"_secret", "_token", "_password", "_access_key"}

func isSensitive(key string) bool {
	k := strings.ToLower(key)
	if sensitiveKeys[k] {
		return true
	}
	for _, s := range sensitiveSuffixes {
		if strings.HasSuffix(k, s) {
			return true
		}
	}
	return false
}

// Redact returns a copy of v with the values of sensitive keys replaced by
// "[REDACTED]". Nested maps and slices are walked; v itself is not mutated.
func Redact(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, child := range val {
			if isSensitive(k) {
				out[k] = redacted
				continue
			}
			out[k] = Redact(child)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(val))
		for k, s := range val {
			if isSensitive(k) {
				s = redacted
			}
			out[k] = s
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, elem := range val {
			out[i] = Redact(elem)
		}
		return out
	default:
		return v
	}
}
