package session

import "regexp"

var patientPattern = regexp.MustCompile(`(?i)patient\s+(\w+)\s+(\w+)`)

// PatientName extracts the two word tokens following "patient".
func PatientName(content string) (first, last string, ok bool) {
	m := patientPattern.FindStringSubmatch(content)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}
