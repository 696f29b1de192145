// Package pterr defines the error taxonomy shared by the packet decoder,
// the instruction-walk engine, and the public façade, plus helpers for
// tagging and matching against it with errors.Is.
package pterr

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Kind classifies why a decode or walk operation failed.
type Kind int

const (
	// Eof means the packet cursor ran off the end of the buffer while
	// looking for a complete packet. This is the normal way a decode
	// loop ends, not necessarily a failure.
	Eof Kind = iota
	// SyncFailed means no PSB synchronization pattern was found in the
	// buffer at all.
	SyncFailed
	// MalformedPacket means a header byte or payload did not match any
	// recognized packet encoding.
	MalformedPacket
	// MalformedPsbPlus means a PSB+ island contained a packet that is
	// not valid between Psb and PsbEnd.
	MalformedPsbPlus
	// MalformedInstruction means the instruction decoder could not
	// decode bytes at the current IP.
	MalformedInstruction
	// InvalidPacketSequence means a packet arrived in a context the
	// state machine does not expect it in (e.g. a TNT with no pending
	// conditional branch).
	InvalidPacketSequence
	// IncoherentState means the reconstructed execution state
	// contradicts itself (e.g. an instruction walk is requested while
	// packet generation is disabled).
	IncoherentState
	// IncoherentImage means the image set assigned to an address range
	// disagrees with what execution requires there.
	IncoherentImage
	// MissingImage means the walk needs bytes at an address not backed
	// by any configured image.
	MissingImage
	// InvalidArgument means a caller supplied a configuration or
	// argument value outside its accepted range.
	InvalidArgument
)

func (k Kind) String() string {
	switch k {
	case Eof:
		return "eof"
	case SyncFailed:
		return "sync failed"
	case MalformedPacket:
		return "malformed packet"
	case MalformedPsbPlus:
		return "malformed psb+"
	case MalformedInstruction:
		return "malformed instruction"
	case InvalidPacketSequence:
		return "invalid packet sequence"
	case IncoherentState:
		return "incoherent state"
	case IncoherentImage:
		return "incoherent image"
	case MissingImage:
		return "missing image"
	case InvalidArgument:
		return "invalid argument"
	default:
		return "unknown"
	}
}

// Error is a Kind tagged with positional context and, optionally, a wrapped
// cause.
type Error struct {
	Kind    Kind
	Pos     int
	Message string
	// Address is set by MissingImage errors: the IP no configured image
	// covers.
	Address uint64
	// Packets names the packet kinds the state machine saw, for
	// InvalidPacketSequence errors (the offending packet last). Stored as
	// strings, not ptpacket.Kind, so this package never imports the
	// packet layer.
	Packets []string
	cause   error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Kind == MissingImage {
		msg += fmt.Sprintf(" (0x%x)", e.Address)
	}
	if len(e.Packets) > 0 {
		msg += " " + strings.Join(e.Packets, "->")
	}
	return msg
}

func (e *Error) Unwrap() error { return e.cause }

// Is lets errors.Is(err, pterr.Eof) match regardless of position/message.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// New builds an Error of the given kind at the given buffer position.
func New(kind Kind, pos int, message string) *Error {
	return &Error{Kind: kind, Pos: pos, Message: message}
}

// NewMissingImage builds a MissingImage error carrying the unmapped address.
func NewMissingImage(pos int, address uint64) *Error {
	return &Error{Kind: MissingImage, Pos: pos, Address: address, Message: "no image covers address"}
}

// InvalidSequence builds an InvalidPacketSequence error naming the packet
// kinds seen, offending packet last.
func InvalidSequence(pos int, packets ...string) *Error {
	return &Error{Kind: InvalidPacketSequence, Pos: pos, Packets: packets, Message: "unexpected packet in sequence"}
}

// Wrap builds an Error of the given kind, recording cause via
// github.com/pkg/errors so the original stack trace survives in %+v
// formatting.
func Wrap(kind Kind, pos int, cause error, message string) *Error {
	return &Error{Kind: kind, Pos: pos, Message: message, cause: errors.WithStack(cause)}
}

// Sentinel returns a zero-position Error of the given kind, suitable for
// use with errors.Is as a match target: errors.Is(err, pterr.Sentinel(pterr.Eof)).
func Sentinel(kind Kind) *Error {
	return &Error{Kind: kind}
}

// IsKind reports whether err is a *Error of the given Kind, anywhere in its
// Unwrap chain.
func IsKind(err error, kind Kind) bool {
	return stderrors.Is(err, Sentinel(kind))
}
