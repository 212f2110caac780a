package protocol

import "strings"

// Fixed answer prefixes.
const (
	versionAnswerPrefix    = "=version?"
	accVersionAnswerPrefix = "=acc_ver?"
	sysDataID              = "sys"
	commandOKMarker        = ":OK"

	// factoryAnswerOK is how the firmware acknowledges a factory reset.
	// It lacks the ":OK" marker but is still a success.
	factoryAnswerOK = "=factory?OK"
)

// StripNUL removes every 0x00 byte from an inbound frame. Firmware pads
// notifications with NUL terminators at arbitrary positions.
func StripNUL(frame string) string {
	if strings.IndexByte(frame, 0) < 0 {
		return frame
	}
	return strings.ReplaceAll(frame, "\x00", "")
}

// IsVersionAnswer reports whether s answers the primary firmware version query.
func IsVersionAnswer(s string) bool {
	return strings.HasPrefix(s, versionAnswerPrefix)
}

// StripVersionPrefix returns everything after "=version?", or "".
func StripVersionPrefix(s string) string {
	if !IsVersionAnswer(s) {
		return ""
	}
	return s[len(versionAnswerPrefix):]
}

// VersionDigits returns the reported primary firmware version: the text after
// the prefix up to the first space.
func VersionDigits(s string) string {
	return firstWord(StripVersionPrefix(s))
}

// IsAccVersionAnswer reports whether s answers the sensor firmware query.
func IsAccVersionAnswer(s string) bool {
	return strings.HasPrefix(s, accVersionAnswerPrefix)
}

// StripAccVersionPrefix returns everything after "=acc_ver?", or "".
func StripAccVersionPrefix(s string) string {
	if !IsAccVersionAnswer(s) {
		return ""
	}
	return s[len(accVersionAnswerPrefix):]
}

// AccVersionDigits returns the reported sensor firmware version.
func AccVersionDigits(s string) string {
	return firstWord(StripAccVersionPrefix(s))
}

// IsCommandOK reports whether s starts with "=" and carries ":OK".
func IsCommandOK(s string) bool {
	return strings.HasPrefix(s, answerOK) && strings.Contains(s, commandOKMarker)
}

// IsFactoryOK reports whether s is the factory reset acknowledgement.
func IsFactoryOK(s string) bool {
	return strings.HasPrefix(s, factoryAnswerOK)
}

// IsCommandFailed reports whether s is a failure answer.
func IsCommandFailed(s string) bool {
	return strings.HasPrefix(s, answerFailed)
}

// IsDataRequestAnswer reports whether s has the shape =<sys|digits>?...
func IsDataRequestAnswer(s string) bool {
	_, ok := answerID(s, queryMidfix)
	return ok
}

// DataRequestID returns "sys" or the numeric id of a data request answer.
func DataRequestID(s string) string {
	id, _ := answerID(s, queryMidfix)
	return id
}

// DataRequestPayload strips a data request answer through its first "?".
// It returns "" when s is not a data request answer.
func DataRequestPayload(s string) string {
	if !IsDataRequestAnswer(s) {
		return ""
	}
	_, payload, _ := strings.Cut(s, queryMidfix)
	return payload
}

// IsDataSetAnswer reports whether s has the shape =<sys|digits>:...
func IsDataSetAnswer(s string) bool {
	_, ok := answerID(s, setMidfix)
	return ok
}

// DataSetID returns "sys" or the numeric id of a data set answer.
func DataSetID(s string) string {
	id, _ := answerID(s, setMidfix)
	return id
}

// answerID extracts the identifier between the leading "=" and the first
// delim. Only "sys" and non-empty digit runs are identifiers.
func answerID(s, delim string) (string, bool) {
	if !strings.HasPrefix(s, answerOK) {
		return "", false
	}
	head, _, _ := strings.Cut(s[len(answerOK):], delim)
	if head == sysDataID || isDigits(head) {
		return head, true
	}
	return "", false
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func firstWord(s string) string {
	head, _, _ := strings.Cut(s, " ")
	return head
}
