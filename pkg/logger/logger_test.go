package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRotatingWriterWritesToPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit", "audit.log")

	writer, err := newRotatingWriter(AuditConfig{Path: path})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer writer.Close()

	if writer.MaxSize != defaultAuditMaxSizeMB || writer.MaxBackups != defaultAuditMaxBackups || writer.MaxAge != defaultAuditMaxAgeDays {
		t.Fatalf("defaults not applied: %+v", writer)
	}

	if _, err := writer.Write([]byte("{\"msg\":\"chat handled\"}\n")); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read audit file: %v", err)
	}
	if !strings.Contains(string(content), "chat handled") {
		t.Fatalf("audit line missing: %q", content)
	}
}

func TestRotatingWriterRequiresPath(t *testing.T) {
	if _, err := newRotatingWriter(AuditConfig{}); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestParseLevel(t *testing.T) {
	if parseLevel("DEBUG").String() != "DEBUG" {
		t.Fatalf("debug level not parsed")
	}
	if parseLevel("warning").String() != "WARN" {
		t.Fatalf("warning alias not parsed")
	}
	if parseLevel("bogus").String() != "INFO" {
		t.Fatalf("unknown level should fall back to info")
	}
}
