package transport

import (
	"bytes"
	"encoding/json"

	"github.com/goliatone/go-accountlink/core"
)

// Envelope is the platform's {code,message,data} response wrapper.
type Envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	TTL     int             `json:"ttl,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func DecodeEnvelope(body []byte) (Envelope, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return Envelope{}, core.NewAPIError(core.ErrorCodeAPI, "transport: empty response body", nil)
	}
	var env Envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return Envelope{}, core.NewAPIError(core.ErrorCodeAPI, "transport: malformed response envelope", map[string]any{
			"decode_error": err.Error(),
		})
	}
	return env, nil
}

func (e Envelope) OK() bool {
	return e.Code == 0
}

// DecodeData unmarshals the data member into target. A missing or null data
// member leaves target untouched.
func (e Envelope) DecodeData(target any) error {
	if len(e.Data) == 0 || bytes.Equal(bytes.TrimSpace(e.Data), []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(e.Data, target); err != nil {
		return core.NewAPIError(core.ErrorCodeAPI, "transport: malformed envelope data", map[string]any{
			"code":         e.Code,
			"decode_error": err.Error(),
		})
	}
	return nil
}
