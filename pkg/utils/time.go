package utils

import (
	"strconv"
	"time"
)

// ============================================================
// Время
// ============================================================

// FormatDuration - короткая запись остатка для ops API.
// Точность две старшие единицы, отрицательные значения берутся по модулю.
//
//	45s, 5m30s, 2h15m, 3d5h
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	if d < time.Second {
		return "0s"
	}

	units := []struct {
		size   time.Duration
		suffix string
	}{
		{24 * time.Hour, "d"},
		{time.Hour, "h"},
		{time.Minute, "m"},
		{time.Second, "s"},
	}

	out := ""
	parts := 0
	for _, u := range units {
		n := d / u.size
		if n == 0 {
			if parts > 0 {
				break
			}
			continue
		}
		out += strconv.FormatInt(int64(n), 10) + u.suffix
		d -= n * u.size
		parts++
		if parts == 2 {
			break
		}
	}
	return out
}

// FromUnixMillis конвертирует миллисекунды биржи в UTC время
func FromUnixMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
