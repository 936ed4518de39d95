package otp

import (
	"strconv"
	"testing"
)

func TestGenerateCodeIsSixDigits(t *testing.T) {
	for i := 0; i < 200; i++ {
		code, err := GenerateCode()
		if err != nil {
			t.Fatalf("generate code: %v", err)
		}
		if len(code) != 6 {
			t.Fatalf("expected 6 digits, got %q", code)
		}
		n, err := strconv.Atoi(code)
		if err != nil {
			t.Fatalf("code is not numeric: %q", code)
		}
		if n < 100000 || n > 999999 {
			t.Fatalf("code out of range: %d", n)
		}
	}
}

func TestPendingKey(t *testing.T) {
	if got := pendingKey("alice@example.com"); got != "pending:alice@example.com" {
		t.Fatalf("unexpected key: %q", got)
	}
}
