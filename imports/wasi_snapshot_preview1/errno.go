package wasi_snapshot_preview1

// Errno are the error codes returned by WASI functions, a uint32 even
// though WASI's errno is 16 bits, for parity with api.ValueType encoding.
//
// See https://github.com/WebAssembly/WASI/blob/snapshot-01/phases/snapshot/docs.md#-errno-enumu16
type Errno = uint32

// Only the codes gowasm's boundary-only WASI surface can actually return
// are named; the full snapshot-01 table has ~70 more that this module
// never produces.
const (
	ErrnoSuccess Errno = 0
	ErrnoBadf    Errno = 8
	ErrnoFault   Errno = 21
	ErrnoInval   Errno = 28
	ErrnoIo      Errno = 29
	ErrnoNosys   Errno = 52
	ErrnoPerm    Errno = 63
	Errno2big    Errno = 1
)

var errnoNames = [...]string{
	ErrnoSuccess: "ESUCCESS", ErrnoBadf: "EBADF", ErrnoFault: "EFAULT", ErrnoInval: "EINVAL",
	ErrnoIo: "EIO", ErrnoNosys: "ENOSYS", ErrnoPerm: "EPERM", Errno2big: "E2BIG",
}

// ErrnoName returns the POSIX error code name, except ErrnoSuccess, which
// is not an error. Ex. ErrnoBadf -> "EBADF"
func ErrnoName(errno Errno) string {
	if int(errno) < len(errnoNames) && errnoNames[errno] != "" {
		return errnoNames[errno]
	}
	return "UNKNOWN"
}
