package protocol

import (
	"strconv"
	"strings"
	"time"
)

// Request tokens understood by SweIoT firmware.
const (
	versionRequest    = "version?"
	accVersionRequest = "acc_ver?"

	setPublicKeyCmd    = "key:"
	removePublicKeyCmd = "rm_key"

	debugModeOnCmd  = "deb_log:1"
	debugModeOffCmd = "deb_log:0"

	setClockCmd      = "set_clk:"
	deviceLogRequest = "cat_log"

	dataRequestSuffix = ":?"
)

// Delimiters shared by requests and answers.
const (
	answerOK      = "="
	answerFailed  = "*"
	queryMidfix   = "?"
	setMidfix     = ":"
	dataSeparator = ","
)

// VersionRequestCmd returns the primary firmware version query.
func VersionRequestCmd() string { return versionRequest }

// AccVersionRequestCmd returns the radar sensor firmware version query.
func AccVersionRequestCmd() string { return accVersionRequest }

// DebugModeCmd returns the command switching verbose device logging on or off.
func DebugModeCmd(on bool) string {
	if on {
		return debugModeOnCmd
	}
	return debugModeOffCmd
}

// SetClockCmd returns the clock-set command carrying now as whole Unix seconds.
func SetClockCmd(now time.Time) string {
	return setClockCmd + strconv.FormatInt(now.Unix(), 10)
}

// DeviceLogRequestCmd returns the command asking the device to dump its log.
func DeviceLogRequestCmd() string { return deviceLogRequest }

// SetPublicKeyCmd returns the key provisioning command for a hex public key.
func SetPublicKeyCmd(publicKeyHex string) string {
	return setPublicKeyCmd + publicKeyHex
}

// RemovePublicKeyCmd returns the command that clears the provisioned key.
func RemovePublicKeyCmd() string { return removePublicKeyCmd }

// IsSetPublicKeyCmd reports whether cmd provisions a public key.
// Such commands are never signed.
func IsSetPublicKeyCmd(cmd string) bool {
	return strings.HasPrefix(cmd, setPublicKeyCmd)
}

// IsRemovePublicKeyCmd reports whether cmd clears the provisioned key.
func IsRemovePublicKeyCmd(cmd string) bool {
	return strings.HasPrefix(cmd, removePublicKeyCmd)
}

// DataRequestCmd returns the query for a parameter group, e.g. "sys:?".
func DataRequestCmd(prefix string) string {
	return prefix + dataRequestSuffix
}

// DataSetCmd builds "<prefix>:v0,v1,...,v(n-1)".
//
// n is clamped to len(values); a negative n sends no values. No separator
// follows the last value.
func DataSetCmd(prefix string, values []string, n int) string {
	if n > len(values) {
		n = len(values)
	}
	if n < 0 {
		n = 0
	}
	return prefix + setMidfix + strings.Join(values[:n], dataSeparator)
}

// DecodeDataSetCmd splits a command built by DataSetCmd back into its prefix
// and values. ok is false when cmd has no ":" delimiter.
func DecodeDataSetCmd(cmd string) (prefix string, values []string, ok bool) {
	prefix, payload, found := strings.Cut(cmd, setMidfix)
	if !found {
		return "", nil, false
	}
	if payload == "" {
		return prefix, []string{}, true
	}
	return prefix, strings.Split(payload, dataSeparator), true
}

// ParseDataValues splits a data request payload into at most limit values.
// Values past limit are dropped. A limit <= 0 keeps every value.
func ParseDataValues(payload string, limit int) []string {
	values := strings.Split(payload, dataSeparator)
	if limit > 0 && len(values) > limit {
		values = values[:limit]
	}
	return values
}
