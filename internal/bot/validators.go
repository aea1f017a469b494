package bot

import "strings"

// NormalizeUAPhone reduces a free-form phone input to +380XXXXXXXXX.
// Accepted digit shapes: 380 + 9 digits, 80 + 9 digits, 0 + 9 digits
// (with or without punctuation and a leading plus). Anything else is invalid.
func NormalizeUAPhone(raw string) (string, bool) {
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()

	switch {
	case strings.HasPrefix(d, "380") && len(d) == 12:
		return "+" + d, true
	case strings.HasPrefix(d, "80") && len(d) == 11:
		return "+3" + d, true
	case strings.HasPrefix(d, "0") && len(d) == 10:
		return "+38" + d, true
	}
	return "", false
}

// SplitCityBranch splits a combined "city, branch" input on the first comma.
// No comma leaves the branch empty; extra commas fold into the branch. The
// caller keeps the verbatim string for display, this split is storage-only.
func SplitCityBranch(raw string) (city, branch string) {
	city, branch, found := strings.Cut(raw, ",")
	city = strings.TrimSpace(city)
	if !found {
		return city, ""
	}
	return city, strings.TrimSpace(branch)
}
