package core

import (
	"strings"
	"testing"
)

func TestRedactSensitiveMap_MasksSecretKeys(t *testing.T) {
	redacted := RedactSensitiveMap(map[string]any{
		"principal_id":  "p1",
		"external_id":   int64(42),
		"session_token": "abc",
		"csrf_token":    "def",
		"cookie_header": "SESSDATA=abc; bili_jct=def",
		"nested": map[string]any{
			"refresh_token": "ghi",
			"status":        "ok",
		},
	})
	if redacted["principal_id"] != "p1" || redacted["external_id"] != int64(42) {
		t.Fatalf("expected traceability keys to survive, got %#v", redacted)
	}
	for _, key := range []string{"session_token", "csrf_token", "cookie_header"} {
		if redacted[key] != RedactedValue {
			t.Fatalf("expected %s to be redacted, got %#v", key, redacted[key])
		}
	}
	nested, ok := redacted["nested"].(map[string]any)
	if !ok {
		t.Fatalf("expected nested map, got %#v", redacted["nested"])
	}
	if nested["refresh_token"] != RedactedValue || nested["status"] != "ok" {
		t.Fatalf("expected nested redaction, got %#v", nested)
	}
}

func TestRedactString_MasksEmbeddedAssignments(t *testing.T) {
	input := "GET https://passport.example/crossDomain?DedeUserID=42&DedeUserID__ckMd5=abc&SESSDATA=s3cr3t%2C1&bili_jct=c5rf&gourl=x"
	out := RedactString(input)
	for _, secret := range []string{"s3cr3t", "c5rf", "=42", "=abc"} {
		if strings.Contains(out, secret) {
			t.Fatalf("expected %q to be redacted from %q", secret, out)
		}
	}
	if !strings.Contains(out, "gourl=x") {
		t.Fatalf("expected unrelated params to survive, got %q", out)
	}
}

func TestRedactSensitiveMap_RedactsStringValues(t *testing.T) {
	redacted := RedactSensitiveMap(map[string]any{
		"error": "platform: request failed for url ?SESSDATA=leak",
	})
	if strings.Contains(redacted["error"].(string), "leak") {
		t.Fatalf("expected embedded secret to be redacted, got %#v", redacted["error"])
	}
}
