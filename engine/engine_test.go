package engine

import (
	"strings"
	"testing"
)

func TestDecodeBuildStreamSuccess(t *testing.T) {
	stream := `{"stream":"Step 1/3 : FROM alpine\n"}
{"stream":" ---> abc123\n"}
{"aux":{"ID":"sha256:deadbeef"}}
{"stream":"Successfully built deadbeef\n"}
`
	imageID, log, err := decodeBuildStream(strings.NewReader(stream))
	if err != nil {
		t.Fatalf("decodeBuildStream() error: %v", err)
	}
	if imageID != "sha256:deadbeef" {
		t.Errorf("imageID = %q", imageID)
	}
	if !strings.Contains(log, "Step 1/3 : FROM alpine") {
		t.Errorf("log missing stream content: %q", log)
	}
}

func TestDecodeBuildStreamError(t *testing.T) {
	stream := `{"stream":"Step 2/3 : COPY requirements.txt .\n"}
{"error":"COPY failed","errorDetail":{"message":"COPY failed: file not found in build context: requirements.txt"}}
`
	_, log, err := decodeBuildStream(strings.NewReader(stream))
	if err == nil {
		t.Fatal("expected error from daemon error message")
	}
	if !strings.Contains(err.Error(), "file not found in build context") {
		t.Errorf("error = %v, want errorDetail message", err)
	}
	if !strings.Contains(log, "Step 2/3") {
		t.Errorf("log should contain output before the error: %q", log)
	}
}

func TestProbeResultStable(t *testing.T) {
	tests := []struct {
		name   string
		result ProbeResult
		want   bool
	}{
		{"running at window end", ProbeResult{Status: ProbeStable}, true},
		{"clean one-shot exit", ProbeResult{Status: ProbeExited, ExitCode: 0}, true},
		{"crash exit 1", ProbeResult{Status: ProbeExited, ExitCode: 1}, false},
		{"oom kill 137", ProbeResult{Status: ProbeExited, ExitCode: 137}, false},
		{"daemon refused start", ProbeResult{Status: ProbeStartFailed, Log: "No command specified"}, false},
		{"start refused, zero exit code", ProbeResult{Status: ProbeStartFailed, ExitCode: 0}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.result.Stable(); got != tt.want {
				t.Errorf("Stable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTailBytes(t *testing.T) {
	if got := tailBytes("hello", 10); got != "hello" {
		t.Errorf("short input should pass through, got %q", got)
	}
	if got := tailBytes("0123456789", 4); got != "6789" {
		t.Errorf("tailBytes = %q, want %q", got, "6789")
	}
}

func TestShortID(t *testing.T) {
	if got := shortID("sha256:deadbeefcafe0123456789"); got != "deadbeefcafe" {
		t.Errorf("shortID = %q", got)
	}
	if got := shortID("abc"); got != "abc" {
		t.Errorf("shortID = %q", got)
	}
}
