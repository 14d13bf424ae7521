package appdirs

import (
	"os"
	"testing"
)

func TestDataDirOverride(t *testing.T) {
	os.Setenv("SHEETPILOT_DATA_DIR", "/tmp/sheetpilot-test")
	defer os.Unsetenv("SHEETPILOT_DATA_DIR")
	path, err := DataDir()
	if err != nil {
		t.Fatalf("data dir: %v", err)
	}
	if path != "/tmp/sheetpilot-test" {
		t.Fatalf("expected override path, got %s", path)
	}
}
