package fat

import "time"

// decodeTimestamp converts packed FAT date and time fields. FAT stores local
// time without a zone, so the result is reported in UTC. An unset or invalid
// date yields the zero time.
func decodeTimestamp(date, clock uint16, tenths uint8) time.Time {
	day := int(date & 0x1F)
	month := int(date >> 5 & 0x0F)
	year := int(date>>9) + 1980
	if day == 0 || month == 0 || month > 12 {
		return time.Time{}
	}
	hour := int(clock >> 11)
	minute := int(clock >> 5 & 0x3F)
	second := int(clock&0x1F) * 2
	if hour > 23 || minute > 59 || second > 59 {
		hour, minute, second = 0, 0, 0
	}
	extra := time.Duration(tenths) * 10 * time.Millisecond
	return time.Date(year, time.Month(month), day, hour, minute, second, 0, time.UTC).Add(extra)
}
