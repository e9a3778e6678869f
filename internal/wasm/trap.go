package wasm

import "fmt"

// TrapID identifies the reason a computation was aborted by a Wasm-defined
// trap. The engine never recovers from a trap: it
// unwinds to the nearest API boundary and reports it there.
type TrapID int

const (
	TrapIDUnknown TrapID = iota
	TrapIDMisc
	TrapIDDivByZero
	TrapIDIntegerOverflow
	TrapIDOOBMemory
	TrapIDUnreachable
	TrapIDTooManyFrames
	TrapIDTooManyStackCells
	TrapIDCallIndirectOOB
	TrapIDCallIndirectNull
	TrapIDCallIndirectTypeMismatch
	TrapIDInvalidConversionToInteger
	TrapIDVoluntaryExit
	TrapIDVoluntaryThreadExit
	TrapIDOOBData
	TrapIDOOBTable
	TrapIDOOBElement
	TrapIDAtomicWaitOnUnshared
	TrapIDUnalignedAtomic
	TrapIDUnalignedMemory
)

var trapIDNames = map[TrapID]string{
	TrapIDUnknown:                    "unknown",
	TrapIDMisc:                       "misc",
	TrapIDDivByZero:                  "integer divide by zero",
	TrapIDIntegerOverflow:            "integer overflow",
	TrapIDOOBMemory:                  "out of bounds memory access",
	TrapIDUnreachable:                "unreachable executed",
	TrapIDTooManyFrames:              "too many frames",
	TrapIDTooManyStackCells:          "too many stack cells",
	TrapIDCallIndirectOOB:            "undefined element",
	TrapIDCallIndirectNull:           "uninitialized element",
	TrapIDCallIndirectTypeMismatch:   "indirect call type mismatch",
	TrapIDInvalidConversionToInteger: "invalid conversion to integer",
	TrapIDVoluntaryExit:              "voluntary exit",
	TrapIDVoluntaryThreadExit:        "voluntary thread exit",
	TrapIDOOBData:                    "out of bounds data segment access",
	TrapIDOOBTable:                   "out of bounds table access",
	TrapIDOOBElement:                 "out of bounds element segment access",
	TrapIDAtomicWaitOnUnshared:       "atomic wait on non-shared memory",
	TrapIDUnalignedAtomic:            "unaligned atomic",
	TrapIDUnalignedMemory:            "unaligned memory access",
}

func (id TrapID) String() string {
	if s, ok := trapIDNames[id]; ok {
		return s
	}
	return "trap"
}

// TrapError is the error type returned for a TrapID, distinct from an
// ordinary host error only in that it carries the optional process exit
// code used by proc_exit (WASI) and the thread-exit trap.
type TrapError struct {
	ID             TrapID
	Message        string
	OptionalExitCode *uint32
}

func (e *TrapError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("wasm trap: %s: %s", e.ID, e.Message)
	}
	return fmt.Sprintf("wasm trap: %s", e.ID)
}

// NewTrapError constructs a TrapError with a formatted message shared
// by validation and runtime traps alike.
func NewTrapError(id TrapID, format string, args ...interface{}) *TrapError {
	return &TrapError{ID: id, Message: fmt.Sprintf(format, args...)}
}
