package passphrase

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func scripted(src *Source, answers ...string) *int {
	calls := 0
	src.out = io.Discard
	src.isTTY = func() bool { return true }
	src.prompt = func() ([]byte, error) {
		answer := answers[calls%len(answers)]
		calls++
		return []byte(answer), nil
	}
	return &calls
}

func TestSourcePrefersEnvironment(t *testing.T) {
	t.Setenv("STABLED_TEST_PASS", "hunter2")
	src := NewSource("STABLED_TEST_PASS", WithConfirm())
	src.isTTY = func() bool { t.Fatal("terminal consulted"); return false }
	got, err := src.Get()
	if err != nil || got != "hunter2" {
		t.Fatalf("unexpected result %q %v", got, err)
	}
}

func TestSourceRejectsBlankEnvironment(t *testing.T) {
	t.Setenv("STABLED_TEST_PASS", "   ")
	if _, err := NewSource("STABLED_TEST_PASS").Get(); err == nil {
		t.Fatal("expected error for blank passphrase")
	}
}

func TestSourcePromptsOnce(t *testing.T) {
	src := NewSource("")
	calls := scripted(src, "secret")
	for i := 0; i < 2; i++ {
		got, err := src.Get()
		if err != nil || got != "secret" {
			t.Fatalf("unexpected result %q %v", got, err)
		}
	}
	if *calls != 1 {
		t.Fatalf("expected one prompt, got %d", *calls)
	}
}

func TestSourceConfirmation(t *testing.T) {
	src := NewSource("", WithConfirm())
	calls := scripted(src, "secret", "secret")
	if got, err := src.Get(); err != nil || got != "secret" {
		t.Fatalf("unexpected result %q %v", got, err)
	}
	if *calls != 2 {
		t.Fatalf("expected two prompts, got %d", *calls)
	}

	src = NewSource("", WithConfirm())
	scripted(src, "secret", "secreT")
	if _, err := src.Get(); !errors.Is(err, ErrMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}
}

func TestSourceRejectsEmptyPrompt(t *testing.T) {
	src := NewSource("", WithLabel("operator keystore"))
	scripted(src, "  ")
	_, err := src.Get()
	if err == nil || !strings.Contains(err.Error(), "operator keystore") {
		t.Fatalf("expected labelled empty error, got %v", err)
	}
}

func TestSourceWithoutTerminal(t *testing.T) {
	src := NewSource("STABLED_UNSET_PASS")
	src.isTTY = func() bool { return false }
	_, err := src.Get()
	if err == nil || !strings.Contains(err.Error(), "STABLED_UNSET_PASS") {
		t.Fatalf("expected error naming the variable, got %v", err)
	}
}
