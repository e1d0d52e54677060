package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestLogger_VerboseGating(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "test", false)

	log.Debugf("debug %d", 1)
	log.Infof("info %d", 2)
	if buf.Len() != 0 {
		t.Errorf("non-verbose logger wrote %q", buf.String())
	}

	log.Warnf("warn %d", 3)
	log.Errorf("error %d", 4)
	out := buf.String()
	if !strings.Contains(out, "[test] WARNING: warn 3") {
		t.Errorf("missing warning line in %q", out)
	}
	if !strings.Contains(out, "[test] ERROR: error 4") {
		t.Errorf("missing error line in %q", out)
	}
}

func TestLogger_Verbose(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "test", true)

	log.Debugf("debug")
	log.Infof("info")

	out := buf.String()
	if !strings.Contains(out, "DEBUG: debug") || !strings.Contains(out, "INFO: info") {
		t.Errorf("verbose logger dropped output: %q", out)
	}
}

func TestLogger_NoPrefix(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "", false)

	log.Errorf("bare")
	if got := buf.String(); got != "ERROR: bare\n" {
		t.Errorf("unexpected line %q", got)
	}
}

func TestLogger_Silence(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "test", true)

	log.Errorf("before")
	log.Silence()
	log.Errorf("after")

	out := buf.String()
	if !strings.Contains(out, "before") {
		t.Errorf("missing pre-silence line in %q", out)
	}
	if strings.Contains(out, "after") {
		t.Errorf("silenced logger still wrote: %q", out)
	}
}
