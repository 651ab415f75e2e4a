package wire

// ProtocolVersion is the only envelope version this codec accepts
const ProtocolVersion = 1

// Envelope is the logical unit of one request or response
type Envelope struct {
	Version   int
	Opcode    Opcode
	Arguments []string
	// Length is derived by the wire format; see Format.Length
	Length int
}

// NewEnvelope builds a current-version envelope
func NewEnvelope(op Opcode, args ...string) Envelope {
	e := Envelope{Version: ProtocolVersion, Opcode: op}
	if len(args) > 0 {
		e.Arguments = args
	}
	return e
}

// Reply builds a response envelope whose first argument is the status
func Reply(op Opcode, status Status, args ...string) Envelope {
	return NewEnvelope(op, append([]string{string(status)}, args...)...)
}

// Status returns the status carried by a response envelope
func (e Envelope) Status() Status {
	if len(e.Arguments) == 0 {
		return ""
	}
	return Status(e.Arguments[0])
}

// Arg returns argument i or "" when absent
func (e Envelope) Arg(i int) string {
	if i < 0 || i >= len(e.Arguments) {
		return ""
	}
	return e.Arguments[i]
}

// Payload returns the response arguments after the status
func (e Envelope) Payload() []string {
	if len(e.Arguments) <= 1 {
		return nil
	}
	return e.Arguments[1:]
}
