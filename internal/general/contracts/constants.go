package contracts

// Methods understood by the relay.
const (
	MethodStartPump = "start-pump"
)

// Origin tagging of requests forwarded to the microcontroller manager.
const (
	AdditionalInfoOriginKey = "request_origin"
	RequestOrigin           = "MSPumpControl"
)

const ContentTypeJSON = "application/json"

// KnownMethod reports whether the relay can handle the given method name.
func KnownMethod(name string) bool {
	switch name {
	case MethodStartPump:
		return true
	default:
		return false
	}
}
