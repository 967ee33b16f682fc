package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestWrapKeepsCodeAndCause(t *testing.T) {
	cause := stdErrors.New("连接被拒绝")
	err := Wrap(CodeStorageFailure, cause, "写入会话失败", WithMetadata("app", "agent4_app"))

	if CodeOf(err) != CodeStorageFailure {
		t.Fatalf("unexpected code: %s", CodeOf(err))
	}
	if !stdErrors.Is(err, cause) {
		t.Fatalf("cause should be reachable through errors.Is")
	}
	if err.Metadata()["app"] != "agent4_app" {
		t.Fatalf("metadata lost: %+v", err.Metadata())
	}
	if !RetryableError(err) {
		t.Fatalf("storage failure should be retryable by default")
	}
}

func TestIsWalksWrappedChain(t *testing.T) {
	inner := New(CodeLLMFailure, "模型返回空响应")
	outer := fmt.Errorf("runner: %w", inner)

	if !Is(outer, CodeLLMFailure) {
		t.Fatalf("expected code to be found through fmt wrapping")
	}
	if Is(outer, CodeTimeout) {
		t.Fatalf("unexpected code match")
	}
}

func TestOverridesTakePrecedence(t *testing.T) {
	err := New(CodeTimeout, "", WithRetryable(false), WithAlert(false), WithSeverity(SeverityCritical))
	if err.Retryable() || err.ShouldAlert() {
		t.Fatalf("overrides ignored: %+v", err)
	}
	if err.Severity() != SeverityCritical {
		t.Fatalf("unexpected severity: %s", err.Severity())
	}
	if err.Message() != "operation timed out" {
		t.Fatalf("default message not applied: %q", err.Message())
	}
}

func TestRegisterCustomCode(t *testing.T) {
	const code Code = "TEST_CUSTOM"
	Register(code, Attributes{Message: "custom", Severity: SeverityWarning, Retryable: true})
	if !New(code, "").Retryable() {
		t.Fatalf("registered attributes not applied")
	}
	if AttributesOf("MISSING").Severity != SeverityCritical {
		t.Fatalf("unknown codes should fall back to UNKNOWN")
	}
}
