package errors

import (
	stderrs "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestCodeOfThroughWrapping(t *testing.T) {
	base := Unavailablef("grok unreachable")
	wrapped := fmt.Errorf("query: %w", base)

	if got := CodeOf(wrapped); got != ErrorCodeProviderUnavailable {
		t.Errorf("CodeOf = %v, want provider_unavailable", got)
	}
	if !IsCode(wrapped, ErrorCodeProviderUnavailable) {
		t.Error("IsCode should see through fmt wrapping")
	}
	if CodeOf(stderrs.New("plain")) != ErrorCodeUnknown {
		t.Error("foreign errors should map to unknown")
	}
}

func TestClassifyKeepsExistingCode(t *testing.T) {
	inner := Malformedf("no choices")
	if got := CodeOf(Classify(inner, ErrorCodeProviderUnavailable, "call failed")); got != ErrorCodeMalformedUpstreamResponse {
		t.Errorf("Classify overwrote code: %v", got)
	}

	foreign := stderrs.New("dial tcp: refused")
	out := Classify(foreign, ErrorCodeProviderUnavailable, "call failed")
	if CodeOf(out) != ErrorCodeProviderUnavailable {
		t.Errorf("Classify did not assign code to foreign error")
	}
	if !stderrs.Is(out, foreign) {
		t.Error("Classify should keep the cause reachable")
	}
	if Classify(nil, ErrorCodeUnknown, "x") != nil {
		t.Error("Classify(nil) should be nil")
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{ErrorCodeObjectNotIdentified, http.StatusUnprocessableEntity},
		{ErrorCodeAuthenticationMissing, http.StatusUnauthorized},
		{ErrorCodeProviderUnavailable, http.StatusServiceUnavailable},
		{ErrorCodeMalformedUpstreamResponse, http.StatusBadGateway},
		{ErrorCodeUnsupported, http.StatusBadRequest},
		{ErrorCodeUnknown, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := HTTPStatusCode(tt.code); got != tt.want {
			t.Errorf("HTTPStatusCode(%v) = %d, want %d", tt.code, got, tt.want)
		}
	}
}

func TestWireFrom(t *testing.T) {
	err := WithOp(Newf(ErrorCodeAuthenticationMissing, "qwen: DASHSCOPE_API_KEY not set"), "client.New")
	w := WireFrom(err)
	if w.Code != "authentication_missing" || w.Op != "client.New" {
		t.Errorf("unexpected wire: %+v", w)
	}
	if (WireFrom(nil) != Wire{}) {
		t.Error("WireFrom(nil) should be zero")
	}
}
