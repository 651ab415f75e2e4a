package wire

import "fmt"

// Opcode identifies the operation carried by an Envelope
type Opcode uint8

const (
	opInvalid Opcode = iota

	// Chat operations
	OpRegister
	OpLogin
	OpGetUsers
	OpGetMessageHistory
	OpSendMessage
	OpGetPendingMessage
	OpMonitorMessages
	OpDeleteAccount
	OpSaveSettings
	OpGetSettings

	// Fault tolerance operations
	OpNewReplica
	OpHeartbeat
	OpGetServers

	// OpReplicate carries a write applied by the leader to its followers
	OpReplicate
	// OpError answers a request that could not be decoded
	OpError

	opCount
)

var opcodeNames = [opCount]string{
	OpRegister:          "Register",
	OpLogin:             "Login",
	OpGetUsers:          "GetUsers",
	OpGetMessageHistory: "GetMessageHistory",
	OpSendMessage:       "SendMessage",
	OpGetPendingMessage: "GetPendingMessage",
	OpMonitorMessages:   "MonitorMessages",
	OpDeleteAccount:     "DeleteAccount",
	OpSaveSettings:      "SaveSettings",
	OpGetSettings:       "GetSettings",
	OpNewReplica:        "NewReplica",
	OpHeartbeat:         "Heartbeat",
	OpGetServers:        "GetServers",
	OpReplicate:         "Replicate",
	OpError:             "Error",
}

var opcodesByName = func() map[string]Opcode {
	m := make(map[string]Opcode, len(opcodeNames))
	for op, name := range opcodeNames {
		if name != "" {
			m[name] = Opcode(op)
		}
	}
	return m
}()

// String returns the wire name of the opcode
func (op Opcode) String() string {
	if op.Valid() {
		return opcodeNames[op]
	}
	return fmt.Sprintf("Opcode(%d)", uint8(op))
}

// Valid reports whether op belongs to the enumeration
func (op Opcode) Valid() bool {
	return op > opInvalid && op < opCount
}

// ParseOpcode resolves a wire name. Names outside the enumeration return
// ErrUnknownOpcode.
func ParseOpcode(name string) (Opcode, error) {
	op, ok := opcodesByName[name]
	if !ok {
		return opInvalid, fmt.Errorf("%w: %q", ErrUnknownOpcode, name)
	}
	return op, nil
}

// Opcodes returns every opcode in the enumeration
func Opcodes() []Opcode {
	ops := make([]Opcode, 0, int(opCount)-1)
	for op := opInvalid + 1; op < opCount; op++ {
		ops = append(ops, op)
	}
	return ops
}
