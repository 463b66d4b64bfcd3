// Package protocol implements the newline delimited text protocol spoken
// between workers and the coordinator.
//
// Requests (worker to coordinator):
//
//	GET_WORK
//	RESULT <combined> <number> <hash>
//	RESULT_EMPTY <rangeStart> <rangeEnd>
//
// Replies to GET_WORK (coordinator to worker):
//
//	<decimal rangeStart> | WAIT | NO_WORK
//
// RESULT and RESULT_EMPTY have no reply. A worker only ever reports numbers
// taken from the range it was leased; the coordinator attributes a RESULT to
// the unit containing <number>.
package protocol

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"lukechampine.com/uint128"
)

// Wire keywords.
const (
	CmdGetWork      = "GET_WORK"
	CmdResult       = "RESULT"
	CmdResultEmpty  = "RESULT_EMPTY"
	ReplyWaitText   = "WAIT"
	ReplyNoWorkText = "NO_WORK"
)

// ErrMalformed marks a line that could not be parsed. Callers log and drop
// the line; the connection stays usable.
var ErrMalformed = errors.New("malformed message")

// RequestKind identifies a request line.
type RequestKind int

const (
	GetWork RequestKind = iota + 1
	Result
	ResultEmpty
)

func (k RequestKind) String() string {
	switch k {
	case GetWork:
		return CmdGetWork
	case Result:
		return CmdResult
	case ResultEmpty:
		return CmdResultEmpty
	default:
		return "UNKNOWN"
	}
}

// Request is a parsed request line. Only the fields of its Kind are set.
type Request struct {
	Combined   string          // Result
	Hash       string          // Result
	Number     uint128.Uint128 // Result
	RangeStart uint128.Uint128 // ResultEmpty
	RangeEnd   uint128.Uint128 // ResultEmpty
	Kind       RequestKind
}

// NewGetWork returns a GET_WORK request.
func NewGetWork() Request { return Request{Kind: GetWork} }

// NewResult returns a RESULT request for a found candidate.
func NewResult(combined string, number uint128.Uint128, hash string) Request {
	return Request{Kind: Result, Combined: combined, Number: number, Hash: hash}
}

// NewResultEmpty returns a RESULT_EMPTY request for an exhausted range.
func NewResultEmpty(start, end uint128.Uint128) Request {
	return Request{Kind: ResultEmpty, RangeStart: start, RangeEnd: end}
}

// String renders the request without the trailing newline.
func (r Request) String() string {
	switch r.Kind {
	case GetWork:
		return CmdGetWork
	case Result:
		return fmt.Sprintf("%s %s %s %s", CmdResult, r.Combined, r.Number, r.Hash)
	case ResultEmpty:
		return fmt.Sprintf("%s %s %s", CmdResultEmpty, r.RangeStart, r.RangeEnd)
	default:
		return ""
	}
}

// ParseRequest parses one request line. Surrounding whitespace is ignored.
func ParseRequest(line string) (Request, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Request{}, fmt.Errorf("%w: empty line", ErrMalformed)
	}

	switch fields[0] {
	case CmdGetWork:
		if len(fields) != 1 {
			return Request{}, fmt.Errorf("%w: %s takes no arguments", ErrMalformed, CmdGetWork)
		}
		return NewGetWork(), nil

	case CmdResult:
		if len(fields) != 4 {
			return Request{}, fmt.Errorf("%w: %s wants 3 arguments, got %d", ErrMalformed, CmdResult, len(fields)-1)
		}
		n, err := ParseNumber(fields[2])
		if err != nil {
			return Request{}, err
		}
		return NewResult(fields[1], n, fields[3]), nil

	case CmdResultEmpty:
		if len(fields) != 3 {
			return Request{}, fmt.Errorf("%w: %s wants 2 arguments, got %d", ErrMalformed, CmdResultEmpty, len(fields)-1)
		}
		start, err := ParseNumber(fields[1])
		if err != nil {
			return Request{}, err
		}
		end, err := ParseNumber(fields[2])
		if err != nil {
			return Request{}, err
		}
		return NewResultEmpty(start, end), nil

	default:
		return Request{}, fmt.Errorf("%w: unknown command %q", ErrMalformed, fields[0])
	}
}

// ReplyKind identifies a GET_WORK reply.
type ReplyKind int

const (
	Lease ReplyKind = iota + 1
	Wait
	NoWork
)

// Reply is the tagged answer to GET_WORK. RangeStart is set only for Lease,
// so a lease of range zero is never confused with a wait.
type Reply struct {
	RangeStart uint128.Uint128
	Kind       ReplyKind
}

// String renders the reply without the trailing newline.
func (r Reply) String() string {
	switch r.Kind {
	case Lease:
		return r.RangeStart.String()
	case Wait:
		return ReplyWaitText
	case NoWork:
		return ReplyNoWorkText
	default:
		return ""
	}
}

// ParseReply parses one GET_WORK reply line.
func ParseReply(line string) (Reply, error) {
	line = strings.TrimSpace(line)
	switch line {
	case ReplyWaitText:
		return Reply{Kind: Wait}, nil
	case ReplyNoWorkText:
		return Reply{Kind: NoWork}, nil
	}
	n, err := ParseNumber(line)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Kind: Lease, RangeStart: n}, nil
}

// ParseNumber parses an unsigned decimal 128-bit integer.
func ParseNumber(s string) (uint128.Uint128, error) {
	if s == "" || strings.TrimLeft(s, "0123456789") != "" {
		return uint128.Zero, fmt.Errorf("%w: %q is not an unsigned decimal", ErrMalformed, s)
	}
	b, ok := new(big.Int).SetString(s, 10)
	if !ok || b.BitLen() > 128 {
		return uint128.Zero, fmt.Errorf("%w: %q does not fit in 128 bits", ErrMalformed, s)
	}
	return uint128.FromBig(b), nil
}
