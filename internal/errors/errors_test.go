package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestWrapPreservesCodeAndCause(t *testing.T) {
	cause := stdErrors.New("connection refused")
	err := Wrap(CodeLedgerFailure, cause, "ledger unreachable")

	if CodeOf(err) != CodeLedgerFailure {
		t.Fatalf("expected LEDGER_FAILURE, got %s", CodeOf(err))
	}
	if !stdErrors.Is(err, cause) {
		t.Fatal("expected wrapped cause to be reachable via errors.Is")
	}
	if !RetryableError(err) {
		t.Fatal("ledger failures default to retryable")
	}
	if !ShouldAlert(err) {
		t.Fatal("ledger failures default to alerting")
	}
}

func TestCodeOfForeignError(t *testing.T) {
	if CodeOf(fmt.Errorf("plain")) != CodeUnknown {
		t.Fatal("expected UNKNOWN for foreign errors")
	}
}

func TestIsMatchesByCode(t *testing.T) {
	err := New(CodeProofDuplicate, "")
	if !stdErrors.Is(err, New(CodeProofDuplicate, "other message")) {
		t.Fatal("expected errors with the same code to match")
	}
	if stdErrors.Is(err, New(CodeProofFailure, "")) {
		t.Fatal("expected different codes not to match")
	}
}

func TestOptionsOverrideDefaults(t *testing.T) {
	err := New(CodeInvalidArgument, "bad input", WithRetryable(true), WithSeverity(SeverityCritical))
	if !err.Retryable() {
		t.Fatal("expected retryable override")
	}
	if err.Severity() != SeverityCritical {
		t.Fatalf("expected critical severity, got %s", err.Severity())
	}
}

func TestDefaultMessageFromRegistry(t *testing.T) {
	err := New(CodePaymentReplayed, "")
	if err.Message() != "payment transaction already consumed" {
		t.Fatalf("unexpected default message: %s", err.Message())
	}
}
