package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestNewUsesRegisteredMessage(t *testing.T) {
	err := New(CodeNotFound, "")
	if err.Message() != "resource not found" {
		t.Fatalf("unexpected message: %q", err.Message())
	}
	if err.Error() != "[NOT_FOUND] resource not found" {
		t.Fatalf("unexpected error string: %q", err.Error())
	}
}

func TestWrapKeepsCauseAndCode(t *testing.T) {
	cause := stdErrors.New("dial tcp: refused")
	err := fmt.Errorf("outer: %w", Wrap(CodeChainFailure, cause, "broadcast failed"))

	if !stdErrors.Is(err, cause) {
		t.Fatalf("expected cause to be reachable")
	}
	if CodeOf(err) != CodeChainFailure {
		t.Fatalf("unexpected code: %s", CodeOf(err))
	}
	if !stdErrors.Is(err, New(CodeChainFailure, "other message")) {
		t.Fatalf("expected code based match")
	}
}

func TestRegisterOverridesAttributes(t *testing.T) {
	code := Code("TEST_ONLY")
	Register(code, Attributes{Message: "test only", Severity: SeverityWarning, Alert: true})

	err := New(code, "")
	if err.Severity() != SeverityWarning || !err.ShouldAlert() {
		t.Fatalf("unexpected attributes: %s %v", err.Severity(), err.ShouldAlert())
	}
	if SeverityOf(New(code, "", WithSeverity(SeverityInfo))) != SeverityInfo {
		t.Fatalf("expected severity override")
	}
	if ShouldAlert(New(code, "", WithAlert(false))) {
		t.Fatalf("expected alert override")
	}
}

func TestUnknownFallbacks(t *testing.T) {
	plain := stdErrors.New("plain")
	if CodeOf(plain) != CodeUnknown {
		t.Fatalf("expected unknown code")
	}
	if SeverityOf(plain) != SeverityCritical {
		t.Fatalf("expected unknown severity to be critical")
	}
	if AttributesOf(Code("NEVER_REGISTERED")).Message != "unknown error" {
		t.Fatalf("expected unknown attributes")
	}
}

func TestMetadataIsCopied(t *testing.T) {
	err := New(CodeInvalidArgument, "bad", WithMetadata("stage", "precheck"))
	md := err.Metadata()
	md["stage"] = "changed"
	if err.Metadata()["stage"] != "precheck" {
		t.Fatalf("metadata should be copied")
	}
}
