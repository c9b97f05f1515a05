package gitops

import (
	"strings"
	"testing"
)

func TestValidateBranchName(t *testing.T) {
	valid := []string{"sparkle-data", "sync/tasks", "feature-2026", "a"}
	for _, name := range valid {
		if err := ValidateBranchName(name); err != nil {
			t.Errorf("ValidateBranchName(%q) = %v, want nil", name, err)
		}
	}

	invalid := []string{"", "HEAD", "has space", "two..dots", "-leading", "trailing.lock", "tilde~1", "star*", "colon:x"}
	for _, name := range invalid {
		if err := ValidateBranchName(name); err == nil {
			t.Errorf("ValidateBranchName(%q) = nil, want error", name)
		}
	}
}

func TestClassifyGitError(t *testing.T) {
	cases := []struct {
		output   string
		fallback Reason
		want     Reason
	}{
		{"fatal: unable to access 'https://...': Could not resolve host: github.com", ReasonPushFailed, ReasonNetworkError},
		{"ssh: connect to host github.com port 22: Connection refused", ReasonFetchFailed, ReasonNetworkError},
		{"fatal: Authentication failed for 'https://...'", ReasonPushFailed, ReasonAuthError},
		{"ERROR: Permission denied (publickey)", ReasonFetchFailed, ReasonAuthError},
		{"remote: HTTP Basic: Access denied 403", ReasonPushFailed, ReasonAuthError},
		{"fatal: unable to access: operation timed out", ReasonPushFailed, ReasonPushTimeout},
		{"error: failed to push some refs (non-fast-forward)", ReasonPushFailed, ReasonPushFailed},
		{"", ReasonPushFailed, ReasonPushFailed},
		// Generic fetch failures keep their own direction.
		{"fatal: couldn't find remote ref refs/heads/sparkle-data", ReasonFetchFailed, ReasonFetchFailed},
		{"fatal: unable to access: operation timed out", ReasonFetchFailed, ReasonFetchFailed},
		{"", ReasonFetchFailed, ReasonFetchFailed},
	}
	for _, tc := range cases {
		if got := classifyGitError(tc.output, tc.fallback); got != tc.want {
			t.Errorf("classifyGitError(%q, %s) = %s, want %s", tc.output, tc.fallback, got, tc.want)
		}
	}
}

func TestCommitMessage(t *testing.T) {
	if got := commitMessage(nil); got != "sparkle: sync event files" {
		t.Errorf("empty: got %q", got)
	}
	if got := commitMessage([]string{"a.json"}); !strings.Contains(got, "1 event file") || strings.Contains(got, "files") {
		t.Errorf("singular: got %q", got)
	}
	if got := commitMessage([]string{"a.json", "b.json", "c.json"}); !strings.Contains(got, "3 event files") {
		t.Errorf("plural: got %q", got)
	}
}

func TestFirstLine(t *testing.T) {
	if got := firstLine("only"); got != "only" {
		t.Errorf("got %q", got)
	}
	if got := firstLine("top\nrest\nmore"); got != "top" {
		t.Errorf("got %q", got)
	}
}
