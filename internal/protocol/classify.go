package protocol

// Kind is the classification of an inbound frame.
type Kind int

// Answer kinds, in classification order.
const (
	KindUnknown Kind = iota
	KindVersion
	KindAccVersion
	KindDataRequest
	KindDataSet
	KindCommandOK
	KindCommandFailed
	KindMeasurement
)

var kindNames = map[Kind]string{
	KindUnknown:       "unknown",
	KindVersion:       "version",
	KindAccVersion:    "acc_version",
	KindDataRequest:   "data_request",
	KindDataSet:       "data_set",
	KindCommandOK:     "command_ok",
	KindCommandFailed: "command_failed",
	KindMeasurement:   "measurement",
}

// String returns the snake_case name used in logs, MQTT and the API.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// MarshalText encodes the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind name. Unrecognised names decode to
// KindUnknown.
func (k *Kind) UnmarshalText(b []byte) error {
	*k = KindUnknown
	for kind, name := range kindNames {
		if name == string(b) {
			*k = kind
			break
		}
	}
	return nil
}

// Answer is a classified inbound frame.
type Answer struct {
	Kind Kind `json:"kind"`

	// Raw is the frame after NUL stripping.
	Raw string `json:"raw"`

	// ID is "sys" or the numeric group of data request and data set answers.
	ID string `json:"id,omitempty"`

	// Payload is the extracted slice: version digits for version answers,
	// the text after the first "?" for data request answers.
	Payload string `json:"payload,omitempty"`

	// Fields holds the parsed pairs of a measurement frame.
	Fields []Field `json:"fields,omitempty"`
}

// Success reports whether the answer acknowledges a request.
func (a Answer) Success() bool {
	switch a.Kind {
	case KindVersion, KindAccVersion, KindDataRequest, KindDataSet, KindCommandOK:
		return true
	default:
		return false
	}
}

// Classify strips NUL bytes from frame and classifies it. The first matching
// rule wins, in the order of the Kind constants.
func Classify(frame string) Answer {
	s := StripNUL(frame)
	a := Answer{Raw: s}

	switch {
	case IsVersionAnswer(s):
		a.Kind = KindVersion
		a.Payload = VersionDigits(s)
	case IsAccVersionAnswer(s):
		a.Kind = KindAccVersion
		a.Payload = AccVersionDigits(s)
	case IsDataRequestAnswer(s):
		a.Kind = KindDataRequest
		a.ID = DataRequestID(s)
		a.Payload = DataRequestPayload(s)
	case IsDataSetAnswer(s):
		a.Kind = KindDataSet
		a.ID = DataSetID(s)
	case IsCommandOK(s) || IsFactoryOK(s):
		a.Kind = KindCommandOK
	case IsCommandFailed(s):
		a.Kind = KindCommandFailed
	case IsMeasurement(s):
		a.Kind = KindMeasurement
		a.Fields = ParseMeasurement(s)
	default:
		a.Kind = KindUnknown
	}
	return a
}
