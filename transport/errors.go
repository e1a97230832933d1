package transport

import (
	"fmt"
	"net/http"

	"github.com/goliatone/go-accountlink/core"
)

// statusError classifies a non-2xx/3xx status: 5xx is a retryable network
// failure, 4xx is terminal.
func statusError(operation string, status int, metadata map[string]any) error {
	if status >= http.StatusInternalServerError {
		return core.NewNetworkError(nil, fmt.Sprintf("transport: %s upstream status %d", operation, status), metadata)
	}
	return core.NewAPIError(core.ErrorCodeHTTPClient, fmt.Sprintf("transport: %s rejected with status %d", operation, status), metadata)
}

func requestError(operation string, source error, metadata map[string]any) error {
	return core.NewNetworkError(source, fmt.Sprintf("transport: %s request failed", operation), metadata)
}

func exhaustedError(operation string, attempts int, last error, metadata map[string]any) error {
	return core.NewNetworkError(last, fmt.Sprintf("transport: %s failed after %d attempts", operation, attempts), metadata)
}

func badRequestError(message string, source error) error {
	if source != nil {
		message = fmt.Sprintf("%s: %v", message, source)
	}
	return core.NewValidationError(core.ErrorCodeBadInput, message)
}

func metadataWith(base map[string]any, extra map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(extra))
	for key, value := range base {
		out[key] = value
	}
	for key, value := range extra {
		out[key] = value
	}
	return out
}
