package availability

import "testing"

func TestNormalizeTime(t *testing.T) {
	cases := map[string]string{
		"09:30:00": "09:30",
		"09:30":    "09:30",
		"9:30":     "9:30",
		"":         "",
		"noon":     "noon",
		"09:30:0x": "09:30:0x",
	}
	for in, want := range cases {
		if got := NormalizeTime(in); got != want {
			t.Fatalf("NormalizeTime(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestClockMinutes(t *testing.T) {
	if m, ok := ClockToMinutes("13:45"); !ok || m != 825 {
		t.Fatalf("expected 825, got %d %v", m, ok)
	}
	if m, ok := ClockToMinutes("08:05:59"); !ok || m != 485 {
		t.Fatalf("expected 485, got %d %v", m, ok)
	}
	for _, bad := range []string{"24:00", "12:60", "1:00", "ab:cd"} {
		if _, ok := ClockToMinutes(bad); ok {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
	if got := MinutesToClock(825); got != "13:45" {
		t.Fatalf("expected 13:45, got %s", got)
	}
	if got := MinutesToClock(0); got != "00:00" {
		t.Fatalf("expected 00:00, got %s", got)
	}
}
