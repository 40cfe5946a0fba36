package lang

// Arabic script ranges, including presentation forms and the
// supplement/extended blocks, so transcripts that arrive already
// shaped (e.g. from OCR'd material) still classify correctly.
var arabicRanges = [][2]rune{
	{0x0600, 0x06FF},
	{0x0750, 0x077F},
	{0x08A0, 0x08FF},
	{0xFB50, 0xFDFF},
	{0xFE70, 0xFEFF},
}

// Detect classifies text as "ar" when any Arabic-script code point is
// present, otherwise "en". The empty string is English.
func Detect(text string) string {
	for _, r := range text {
		if isArabic(r) {
			return "ar"
		}
	}
	return "en"
}

func isArabic(r rune) bool {
	for _, rng := range arabicRanges {
		if r >= rng[0] && r <= rng[1] {
			return true
		}
	}
	return false
}
