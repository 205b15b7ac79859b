package types

import "testing"

func TestCanonicalURL(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"https://Shop.Example.com/item/", "https://shop.example.com/item"},
		{"https://shop.example.com:443/item#reviews", "https://shop.example.com/item"},
		{"http://shop.example.com:80", "http://shop.example.com/"},
		{"https://shop.example.com/item?size=M&color=blue", "https://shop.example.com/item?color=blue&size=M"},
		{"https://shop.example.com/item?utm_source=mail&gclid=x&color=red", "https://shop.example.com/item?color=red"},
		{"https://shop.example.com:8443/item", "https://shop.example.com:8443/item"},
	}

	for _, tt := range tests {
		got := CanonicalURL(tt.input)
		if got != tt.expected {
			t.Errorf("CanonicalURL(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestHostOf(t *testing.T) {
	tests := map[string]string{
		"https://www.Amazon.com/dp/B0":   "amazon.com",
		"https://shop.example.com/a?b=c": "shop.example.com",
		"://bad":                         "",
	}
	for in, want := range tests {
		if got := HostOf(in); got != want {
			t.Errorf("HostOf(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeCategory(t *testing.T) {
	tests := map[string]string{
		"":             "general",
		"   ":          "general",
		" Electronics": "electronics",
		"home-decor":   "home-decor",
	}
	for in, want := range tests {
		if got := NormalizeCategory(in); got != want {
			t.Errorf("NormalizeCategory(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	if IsRetryable(nil) {
		t.Error("nil error should not be retryable")
	}
	if IsRetryable(&ValidationError{Index: 0, Field: "url", Err: ErrInvalidURL}) {
		t.Error("validation errors are permanent")
	}
	if IsRetryable(&AuthError{Err: ErrNotFound}) {
		t.Error("auth errors are permanent")
	}
	if !IsRetryable(&TransportError{Op: "pull", StatusCode: 503, Err: ErrEmptyResponse}) {
		t.Error("transport errors should be retried")
	}
	if IsRetryable(&FetchError{URL: "https://x", Err: ErrBotWall, Retryable: false}) {
		t.Error("non-retryable fetch error reported retryable")
	}
}
