package events

// EstimateTokens approximates the token count of text when the provider did
// not return usage metadata. CJK ideographs average about 1.5 characters per
// token, everything else about 4.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	chinese := 0
	other := 0
	for _, r := range text {
		if r >= 0x4e00 && r <= 0x9fff {
			chinese++
		} else {
			other++
		}
	}
	return int(float64(chinese)/1.5 + float64(other)/4.0)
}
