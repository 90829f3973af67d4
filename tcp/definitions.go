package tcp

import (
	"github.com/soypat/seqs"
)

// Flags is a TCP flags bit-masked implementation i.e: SYN, FIN, ACK.
type Flags = seqs.Flags

const (
	FlagFIN = seqs.FlagFIN // FlagFIN - No more data from sender.
	FlagSYN = seqs.FlagSYN // FlagSYN - Synchronize sequence numbers.
	FlagRST = seqs.FlagRST // FlagRST - Reset the connection.
	FlagPSH = seqs.FlagPSH // FlagPSH - Push function.
	FlagACK = seqs.FlagACK // FlagACK - Acknowledgment field significant.
	FlagURG = seqs.FlagURG // FlagURG - Urgent pointer field significant.
)

const flagMask = 0x01ff

// The union of SYN|FIN|PSH and ACK flags is commonly found throughout the stack, so we define shorthands.
const (
	SynAck = FlagSYN | FlagACK
	FinAck = FlagFIN | FlagACK
	PshAck = FlagPSH | FlagACK
	RstAck = FlagRST | FlagACK
)

// State enumerates states a TCP connection progresses through during its lifetime.
// There is no LISTEN state: listening is a property of a port, not of a connection slot.
// There is no CLOSE-WAIT state either: a received FIN is answered with FIN+ACK in the
// same pass, moving the connection straight to LAST-ACK.
type State uint8

const (
	// CLOSED - represents no connection state at all. A connection slot in this state is free.
	StateClosed State = iota // CLOSED
	// SYN-RECEIVED - represents waiting for a confirming connection request acknowledgment
	// after having both received and sent a connection request.
	StateSynRcvd // SYN-RECEIVED
	// SYN-SENT - represents waiting for a matching connection request after having sent a connection request.
	StateSynSent // SYN-SENT
	// ESTABLISHED - represents an open connection, data received can be delivered
	// to the user.  The normal state for the data transfer phase of the connection.
	StateEstablished // ESTABLISHED
	// FIN-WAIT-1 - represents waiting for a connection termination request
	// from the remote TCP, or an acknowledgment of the connection
	// termination request previously sent.
	StateFinWait1 // FIN-WAIT-1
	// FIN-WAIT-2 - represents waiting for a connection termination request
	// from the remote TCP.
	StateFinWait2 // FIN-WAIT-2
	// CLOSING - represents waiting for a connection termination request
	// acknowledgment from the remote TCP.
	StateClosing // CLOSING
	// TIME-WAIT - represents waiting for enough time to pass to be sure the remote
	// TCP received the acknowledgment of its connection termination request.
	StateTimeWait // TIME-WAIT
	// LAST-ACK - represents waiting for an acknowledgment of the
	// connection termination request previously sent to the remote TCP
	// (which includes an acknowledgment of its connection termination request).
	StateLastAck // LAST-ACK
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateSynRcvd:
		return "SYN-RECEIVED"
	case StateSynSent:
		return "SYN-SENT"
	case StateEstablished:
		return "ESTABLISHED"
	case StateFinWait1:
		return "FIN-WAIT-1"
	case StateFinWait2:
		return "FIN-WAIT-2"
	case StateClosing:
		return "CLOSING"
	case StateTimeWait:
		return "TIME-WAIT"
	case StateLastAck:
		return "LAST-ACK"
	}
	return "State(unknown)"
}

// IsClosing returns true if the connection is in a closing state but not yet terminated (relieved of remote connection state).
// Returns false for Closed pseudo state.
func (s State) IsClosing() bool {
	return s > StateEstablished
}

// IsClosed returns true if the connection closed and can possibly relieved of
// all state related to the remote connection. It returns true if Closed or in TimeWait.
func (s State) IsClosed() bool {
	return s == StateClosed || s == StateTimeWait
}

// IsWaiting returns true for the states that time out by counting ticks
// rather than by retransmission: FIN-WAIT-2 and TIME-WAIT.
func (s State) IsWaiting() bool {
	return s == StateFinWait2 || s == StateTimeWait
}
