package monitor

import "testing"

func TestFeedSplitsLines(t *testing.T) {
	s := &Session{}

	s.feed([]byte("boot ok\r\npartial"))
	line, ok := s.takeLine()
	if !ok || line != "boot ok" {
		t.Errorf("takeLine() = %q, %v; want %q, true", line, ok, "boot ok")
	}
	if _, ok := s.takeLine(); ok {
		t.Error("incomplete line must not be returned")
	}

	s.feed([]byte(" data\nnext\n"))
	line, _ = s.takeLine()
	if line != "partial data" {
		t.Errorf("takeLine() = %q, want %q", line, "partial data")
	}
	line, _ = s.takeLine()
	if line != "next" {
		t.Errorf("takeLine() = %q, want %q", line, "next")
	}
}

func TestFeedEmptyLines(t *testing.T) {
	s := &Session{}
	s.feed([]byte("\n\r\n"))

	line, ok := s.takeLine()
	if !ok || line != "" {
		t.Errorf("takeLine() = %q, %v; want empty line", line, ok)
	}
	line, ok = s.takeLine()
	if !ok || line != "" {
		t.Errorf("takeLine() = %q, %v; want empty line", line, ok)
	}
}

func TestOpenRejectsUnknownBaud(t *testing.T) {
	if _, err := Open("/dev/null", 12345); err == nil {
		t.Error("expected error for unsupported baud rate")
	}
}
