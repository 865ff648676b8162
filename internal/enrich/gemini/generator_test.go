package gemini

import (
	"errors"
	"testing"

	"github.com/shpitdev/leadsync/internal/enrich"
	"google.golang.org/genai"
)

type timeoutNetErr struct{}

func (timeoutNetErr) Error() string   { return "i/o timeout" }
func (timeoutNetErr) Timeout() bool   { return true }
func (timeoutNetErr) Temporary() bool { return false }

func TestClassifyErr(t *testing.T) {
	tests := []struct {
		name            string
		in              error
		wantUnavailable bool
	}{
		{name: "nil", in: nil, wantUnavailable: false},
		{name: "api_429", in: genai.APIError{Code: 429}, wantUnavailable: true},
		{name: "api_503", in: genai.APIError{Code: 503}, wantUnavailable: true},
		{name: "api_400", in: genai.APIError{Code: 400}, wantUnavailable: false},
		{name: "net_timeout", in: timeoutNetErr{}, wantUnavailable: true},
		{name: "plain", in: errors.New("bad request"), wantUnavailable: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyErr(tt.in)
			var ue *enrich.ServiceUnavailableError
			if errors.As(got, &ue) != tt.wantUnavailable {
				t.Fatalf("unavailable=%v want=%v (err=%T %v)", !tt.wantUnavailable, tt.wantUnavailable, got, got)
			}
		})
	}
}

func TestFinishReason(t *testing.T) {
	if got := finishReason(nil); got != "no candidates" {
		t.Fatalf("finishReason(nil)=%q", got)
	}
	resp := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{FinishReason: genai.FinishReasonMaxTokens}}}
	if got := finishReason(resp); got != "finishReason=MAX_TOKENS" {
		t.Fatalf("finishReason=%q", got)
	}
}
