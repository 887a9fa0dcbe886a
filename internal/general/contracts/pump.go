package contracts

// RequestEnvelope is the start-pump request as exchanged with the backend and the microcontroller manager.
type RequestEnvelope struct {
	RequestID      string         `json:"RequestId"`
	MethodName     string         `json:"MethodName"`
	PumpID         int64          `json:"PumpId"`
	CreateDate     Timestamp      `json:"CreateDate"`
	AdditionalInfo map[string]any `json:"AdditionalInfo"`
}

// InboundRequest is what the backend publishes: a RequestEnvelope plus the bypass flag.
type InboundRequest struct {
	RequestEnvelope

	WithoutDownstreamManager bool `json:"WithoutDownstreamManager,omitempty"`
	// legacy spelling still sent by older backends
	WithoutMSMicrocontrollerManager bool `json:"WithoutMSMicrocontrollerManager,omitempty"`
}

// Bypass reports whether the relay should answer locally without contacting the manager.
func (r InboundRequest) Bypass() bool {
	return r.WithoutDownstreamManager || r.WithoutMSMicrocontrollerManager
}

// ResponseEnvelope is published back to the backend. ErrorMessage is always present on the wire.
type ResponseEnvelope struct {
	RequestID    string    `json:"RequestId"`
	MethodName   string    `json:"MethodName"`
	PumpID       int64     `json:"PumpId"`
	CreateDate   Timestamp `json:"CreateDate"`
	ErrorMessage string    `json:"ErrorMessage"`
}

// OK is the success discriminant; the wire keeps the empty-ErrorMessage convention.
func (r ResponseEnvelope) OK() bool {
	return r.ErrorMessage == ""
}
