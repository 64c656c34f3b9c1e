package availability

import "fmt"

// NormalizeTime truncates "HH:mm:ss" to "HH:mm". "HH:mm" is returned as is and
// anything else passes through unchanged.
func NormalizeTime(raw string) string {
	if len(raw) == 8 && isClock(raw[:5]) && raw[5] == ':' && isDigit(raw[6]) && isDigit(raw[7]) {
		return raw[:5]
	}
	return raw
}

// ClockToMinutes parses "HH:mm" (or "HH:mm:ss") into minutes since midnight.
func ClockToMinutes(s string) (int, bool) {
	s = NormalizeTime(s)
	if !isClock(s) {
		return 0, false
	}
	h := int(s[0]-'0')*10 + int(s[1]-'0')
	m := int(s[3]-'0')*10 + int(s[4]-'0')
	if h > 23 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

func MinutesToClock(m int) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

func isClock(s string) bool {
	return len(s) == 5 && isDigit(s[0]) && isDigit(s[1]) && s[2] == ':' && isDigit(s[3]) && isDigit(s[4])
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }
