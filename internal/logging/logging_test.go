package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestOpen_Stderr(t *testing.T) {
	var buf bytes.Buffer
	out, err := Open(Options{Stderr: &buf})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer out.Close()

	out.Logger("aggregate").Printf("WARNING: skipped %s", "e1")
	if got := buf.String(); !strings.HasPrefix(got, "[aggregate] ") || !strings.Contains(got, "WARNING: skipped e1") {
		t.Errorf("unexpected log line %q", got)
	}
	if err := out.Rotate(); err != nil {
		t.Errorf("Rotate without a file should be a no-op, got %v", err)
	}
}

func TestOpen_QuietWithoutFile(t *testing.T) {
	var buf bytes.Buffer
	out, err := Open(Options{Stderr: &buf, Quiet: true})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	out.Logger("tasks").Println("created")
	if buf.Len() != 0 {
		t.Errorf("quiet output wrote %q", buf.String())
	}
}

func TestOpen_File(t *testing.T) {
	tests := []struct {
		name       string
		quiet      bool
		wantStderr bool
	}{
		{"tee", false, true},
		{"file only", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			path := filepath.Join(t.TempDir(), "logs", "pdca.log")
			out, err := Open(Options{File: path, MaxSizeMB: 1, MaxBackups: 1, Quiet: tt.quiet, Stderr: &buf})
			if err != nil {
				t.Fatalf("Open failed: %v", err)
			}
			out.Logger("watch").Println("Rebuilt junestory")
			if err := out.Close(); err != nil {
				t.Fatalf("Close failed: %v", err)
			}

			data, err := os.ReadFile(path)
			if err != nil {
				t.Fatalf("ReadFile failed: %v", err)
			}
			if !strings.Contains(string(data), "[watch] ") {
				t.Errorf("log file missing line: %q", data)
			}
			if got := buf.Len() > 0; got != tt.wantStderr {
				t.Errorf("stderr written = %v, want %v", got, tt.wantStderr)
			}
		})
	}
}
