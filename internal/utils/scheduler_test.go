package utils

import "testing"

func TestConvertToJobDef(t *testing.T) {
	for _, interval := range []string{"10m", "6h", "1h30m", "04:05", "*/5 * * * *"} {
		if _, err := ConvertToJobDef(interval); err != nil {
			t.Errorf("ConvertToJobDef(%q) failed: %v", interval, err)
		}
	}
	for _, interval := range []string{"", "soon", "25:00", "10:99"} {
		if _, err := ConvertToJobDef(interval); err == nil {
			t.Errorf("ConvertToJobDef(%q) should fail", interval)
		}
	}
}

func TestParseClockTime(t *testing.T) {
	h, m, ok := parseClockTime("04:05")
	if !ok || h != 4 || m != 5 {
		t.Errorf("parseClockTime(04:05) = %d:%d ok=%v", h, m, ok)
	}
	if _, _, ok := parseClockTime("1h30m"); ok {
		t.Error("durations are not clock times")
	}
}
