package core

import (
	"regexp"
	"strings"
)

const RedactedValue = "[REDACTED]"

// secretAssignment matches cookie or query assignments of platform secrets,
// e.g. "SESSDATA=abc" or "bili_jct=abc".
var secretAssignment = regexp.MustCompile(`(?i)\b(SESSDATA|bili_jct|DedeUserID__ckMd5|DedeUserID|refresh_token|csrf|access_key|session_token|csrf_token|account_id_token|account_checksum)=([^;&\s]+)`)

func RedactSensitiveMap(metadata map[string]any) map[string]any {
	if len(metadata) == 0 {
		return map[string]any{}
	}
	return redactSensitiveMap(metadata)
}

// RedactString masks secret assignments embedded in free text such as URLs,
// cookie headers or error messages.
func RedactString(value string) string {
	if value == "" {
		return value
	}
	return secretAssignment.ReplaceAllString(value, "${1}="+RedactedValue)
}

func redactSensitiveMap(source map[string]any) map[string]any {
	target := make(map[string]any, len(source))
	for key, value := range source {
		if shouldRedactKey(key) {
			target[key] = RedactedValue
			continue
		}
		target[key] = redactSensitiveValue(value)
	}
	return target
}

func redactSensitiveValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return redactSensitiveMap(typed)
	case []any:
		out := make([]any, len(typed))
		for i := range typed {
			out[i] = redactSensitiveValue(typed[i])
		}
		return out
	case string:
		return RedactString(typed)
	case CredentialBundle:
		return typed.String()
	default:
		return value
	}
}

// sensitiveKeyParts flags metadata keys whose values may hold platform
// secrets or key material.
var sensitiveKeyParts = []string{
	"password", "secret", "token", "cookie", "authorization",
	"sessdata", "bili_jct", "csrf", "checksum", "ckmd5",
	"key_material", "ciphertext", "plaintext", "credential",
}

// traceabilityKeys are kept verbatim even when they contain a sensitive part.
var traceabilityKeys = map[string]struct{}{
	"principal_id": {}, "binding_id": {}, "external_id": {},
	"key_fingerprint": {}, "previous_fingerprint": {}, "current_fingerprint": {},
	"challenge_expires_at": {}, "credentials_present": {},
	"idempotency_key": {}, "trace_id": {}, "request_id": {},
}

func shouldRedactKey(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return false
	}
	if _, keep := traceabilityKeys[key]; keep {
		return false
	}
	for _, part := range sensitiveKeyParts {
		if strings.Contains(key, part) {
			return true
		}
	}
	return false
}
