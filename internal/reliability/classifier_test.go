package reliability

import (
	"testing"
	"time"
)

func TestClassifyHTTPStatus(t *testing.T) {
	cases := []struct {
		code int
		want Class
	}{
		{401, ClassAuth},
		{403, ClassAuth},
		{429, ClassQuota},
		{500, ClassRetryable},
		{502, ClassRetryable},
		{503, ClassRetryable},
		{504, ClassRetryable},
		{400, ClassFatal},
		{404, ClassFatal},
		{422, ClassFatal},
	}
	for _, tc := range cases {
		if got := ClassifyHTTPStatus(tc.code); got != tc.want {
			t.Fatalf("ClassifyHTTPStatus(%d) = %q, want %q", tc.code, got, tc.want)
		}
	}
}

func TestIsRetryableHTTPStatus(t *testing.T) {
	if IsRetryableHTTPStatus(429) {
		t.Fatalf("IsRetryableHTTPStatus(429) = true, want false")
	}
	if !IsRetryableHTTPStatus(503) {
		t.Fatalf("IsRetryableHTTPStatus(503) = false, want true")
	}
	if IsRetryableHTTPStatus(401) {
		t.Fatalf("IsRetryableHTTPStatus(401) = true, want false")
	}
}

func TestExponentialBackoff(t *testing.T) {
	base := 100 * time.Millisecond
	cap := time.Second

	if got := ExponentialBackoff(0, base, cap); got != base {
		t.Fatalf("ExponentialBackoff(0) = %v, want %v", got, base)
	}
	if got := ExponentialBackoff(1, base, cap); got != 200*time.Millisecond {
		t.Fatalf("ExponentialBackoff(1) = %v, want 200ms", got)
	}
	if got := ExponentialBackoff(2, base, cap); got != 400*time.Millisecond {
		t.Fatalf("ExponentialBackoff(2) = %v, want 400ms", got)
	}
	if got := ExponentialBackoff(10, base, cap); got != cap {
		t.Fatalf("ExponentialBackoff(10) = %v, want cap %v", got, cap)
	}
}
