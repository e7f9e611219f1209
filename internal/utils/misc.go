package utils

func Contains(slice []string, value string) bool {
	for _, item := range slice {
		if item == value {
			return true
		}
	}
	return false
}

func Mask(text string) string {
	res := ""
	if len(text) > 12 {
		res = text[:8] + "****" + text[len(text)-4:]
	} else if len(text) > 8 {
		res = text[:4] + "****" + text[len(text)-2:]
	} else {
		res = "****"
	}
	return res
}

// Truncate shortens s to at most n characters.
func Truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n]
}
