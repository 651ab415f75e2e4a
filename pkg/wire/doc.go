// Package wire implements the chat envelope and its two wire formats.
//
// Every request and response is an Envelope. An Envelope can be carried
// in either of two interchangeable formats:
//   - Delimited: VERSION§LENGTH§OPCODE§ARG1§ARG2…∞
//   - Structured: a JSON object with version, length, opcode and arguments
//
// The two formats compute Length differently and that difference is part
// of the protocol. The codec works on complete frames only; frame boundary
// detection on a byte stream lives in package rpc.
package wire
