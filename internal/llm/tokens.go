package llm

import "math"

// CountTokensApprox estimates the token count of a text for budgeting.
// Chinese ideographs average about 1.3 characters per token, everything
// else about 4, so the estimate is ceil(chinese/1.3 + other/4) with a
// floor of 1. Never use this for billing.
func CountTokensApprox(text string) int {
	var chinese, other int
	for _, r := range text {
		if r >= 0x4E00 && r <= 0x9FFF {
			chinese++
		} else {
			other++
		}
	}

	est := int(math.Ceil(float64(chinese)/1.3 + float64(other)/4.0))
	if est < 1 {
		est = 1
	}
	return est
}
