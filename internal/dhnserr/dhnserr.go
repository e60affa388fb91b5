// Package dhnserr contains the sentinel error kinds shared by the DHCP and
// DNS subsystems.
package dhnserr

// Error is the constant error type, modeled after the simple sentinel-error
// pattern used throughout the codebase: a string that implements the error
// interface so it can be declared as a package-level const and compared with
// errors.Is without allocating.
type Error string

// Error implements the error interface for Error.
func (err Error) Error() (msg string) {
	return string(err)
}

// Sentinel error kinds.  All of these are absorbed inside the middleware
// that produced them and never bubble up to the endpoint, except ErrBind
// and ErrConfig, which are fatal at startup.
const (
	// ErrParse means a packet (DHCP or DNS) could not be decoded. The DHCP
	// codec delegates to insomniacslk/dhcp, which does not distinguish a
	// bad magic cookie from any other malformed frame, so this sentinel
	// covers every DHCP decode failure uniformly.
	ErrParse Error = "parse error"

	// ErrUnsupportedMsgType means a DHCP message carried a message-type
	// option outside of the set the pool handles (DISCOVER, REQUEST,
	// DECLINE, RELEASE).
	ErrUnsupportedMsgType Error = "dhcp: unsupported message type"

	// ErrPoolExhausted means address allocation found no free candidate in
	// the pool's network.
	ErrPoolExhausted Error = "dhcp: pool exhausted"

	// ErrUpstreamFailure means every configured upstream failed to answer a
	// DNS query within its timeout.
	ErrUpstreamFailure Error = "dns: all upstreams failed"

	// ErrBind means a listening socket could not be created; fatal at
	// startup.
	ErrBind Error = "bind error"

	// ErrConfig means the supplied configuration was invalid; fatal at
	// startup.
	ErrConfig Error = "config error"
)
