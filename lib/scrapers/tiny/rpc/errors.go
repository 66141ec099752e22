package rpc

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// TransportError reports a request that could not be completed at the network
// level, after retries were exhausted for transient failures.
type TransportError struct {
	Host     string
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("rpc: request to %s failed after %d attempt(s): %v", e.Host, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// SessionInvalidError reports a redirect loop, which the ERP produces when it
// no longer accepts the session cookies it is being shown. The session is
// cleared before this is returned; the caller should re-acquire and retry
// once.
type SessionInvalidError struct {
	Host string
}

func (e *SessionInvalidError) Error() string {
	return fmt.Sprintf("rpc: session for %s is no longer valid (redirect loop)", e.Host)
}

// RemoteFaultError carries a fault the remote service reported explicitly.
type RemoteFaultError struct {
	Message string
}

func (e *RemoteFaultError) Error() string {
	return fmt.Sprintf("rpc: remote fault: %s", e.Message)
}

// transient failures are worth retrying: the DNS resolver hiccuping inside a
// container, a timed-out call, a connection that never got established.
func isTransient(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

func isRedirectLoop(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "redirect")
}
