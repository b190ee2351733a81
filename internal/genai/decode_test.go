package genai

import (
	"errors"
	"testing"
)

type testResponse struct {
	Text   string `json:"text"`
	Reason string `json:"reason"`
}

func (r *testResponse) Validate() error {
	if r.Text == "" {
		return errors.New("missing text")
	}
	if r.Reason == "" {
		return errors.New("missing reason")
	}
	return nil
}

func TestDecodeStructured_Direct(t *testing.T) {
	var resp testResponse
	err := DecodeStructured(`{"text": "hello", "reason": "greeting"}`, &resp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "hello" || resp.Reason != "greeting" {
		t.Errorf("unexpected decode result: %+v", resp)
	}
}

func TestDecodeStructured_FencedFallback(t *testing.T) {
	raw := "```json\n{\"text\": \"hello\", \"reason\": \"greeting\"}\n```"
	var resp testResponse
	if err := DecodeStructured(raw, &resp); err != nil {
		t.Fatalf("expected fallback parse to succeed, got %v", err)
	}
	if resp.Text != "hello" {
		t.Errorf("expected decoded text, got %+v", resp)
	}
}

func TestDecodeStructured_ProseWrapped(t *testing.T) {
	raw := "Here is the response you asked for:\n{\"text\": \"hi\", \"reason\": \"r\"}\nHope that helps!"
	var resp testResponse
	if err := DecodeStructured(raw, &resp); err != nil {
		t.Fatalf("expected prose-stripping fallback to succeed, got %v", err)
	}
}

func TestDecodeStructured_Malformed(t *testing.T) {
	var resp testResponse
	err := DecodeStructured("this is not json at all", &resp)
	if err == nil {
		t.Fatal("expected error for unparseable response")
	}
	if !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("expected MalformedResponse-class error, got %v", err)
	}
	if IsRetryable(err) {
		t.Error("malformed responses must not be retryable")
	}
}

func TestDecodeStructured_ValidationFailure(t *testing.T) {
	var resp testResponse
	err := DecodeStructured(`{"text": "", "reason": ""}`, &resp)
	if err == nil {
		t.Fatal("expected validation error for empty required fields")
	}
	var malformed *MalformedError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected *MalformedError, got %T", err)
	}
}

func TestStripWrapping(t *testing.T) {
	cases := []struct{ in, want string }{
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}\n```", `{"a":1}`},
		{"prefix {\"a\":1} suffix", `{"a":1}`},
		{`{"a":1}`, `{"a":1}`},
	}
	for _, c := range cases {
		if got := stripWrapping(c.in); got != c.want {
			t.Errorf("stripWrapping(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
