package policy

import (
	"strings"
	"testing"
)

func TestDecideToolCallBlocksSecretReads(t *testing.T) {
	got := DecideToolCall("read_repo_file", false, `{"path":"config/secrets/prod.env"}`, OverrideDefault)
	if !got.Blocked {
		t.Fatalf("Blocked = false, want true")
	}

	got = DecideToolCall("read_repo_file", false, `{"path":".env"}`, OverrideDefault)
	if !got.Blocked {
		t.Fatalf("Blocked = false for .env read, want true")
	}
}

func TestDecideToolCallSensitivity(t *testing.T) {
	tests := []struct {
		name      string
		sensitive bool
		override  Override
		want      bool
	}{
		{name: "sensitive default", sensitive: true, override: OverrideDefault, want: true},
		{name: "plain default", sensitive: false, override: OverrideDefault, want: false},
		{name: "role forces confirmation", sensitive: false, override: OverrideRequire, want: true},
		{name: "role skips confirmation", sensitive: true, override: OverrideSkip, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DecideToolCall("trigger_deploy", tt.sensitive, `{"ref":"main"}`, tt.override)
			if got.Blocked {
				t.Fatalf("Blocked = true, want false")
			}
			if got.RequiresConfirmation != tt.want {
				t.Fatalf("RequiresConfirmation = %v, want %v", got.RequiresConfirmation, tt.want)
			}
		})
	}
}

func TestRedactPII(t *testing.T) {
	input := "ping sam@example.com at +1 (555) 123-9876 with ghp_abcdefghijklmnopqrstuvwx"
	out, changed := RedactPII(input)
	if !changed {
		t.Fatalf("changed = false, want true")
	}
	for _, marker := range []string{"[REDACTED_EMAIL]", "[REDACTED_PHONE]", "[REDACTED_TOKEN]"} {
		if !strings.Contains(out, marker) {
			t.Fatalf("output missing marker %q: %q", marker, out)
		}
	}
}

func TestSummarizeCallTruncates(t *testing.T) {
	long := `{"body":"` + strings.Repeat("x", 200) + `"}`
	got := SummarizeCall("create_pull_request", long)
	if len(got) > len("create_pull_request ")+123 {
		t.Fatalf("summary too long: %d chars", len(got))
	}
	if SummarizeCall("recall_facts", "{}") != "recall_facts" {
		t.Fatalf("empty args should yield bare tool name")
	}
}
