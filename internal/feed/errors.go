package feed

import "fmt"

// AuthError means the feed rejected the credential. It is fatal for the
// connection that saw it; sibling connections keep running.
type AuthError struct {
	Conn string
	Msg  string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("feed auth rejected on %s: %s", e.Conn, e.Msg)
}

// SubscriptionError means a subscribe sub-batch could not be delivered
// after bounded retries. The connection continues with partial coverage.
type SubscriptionError struct {
	Conn    string
	Symbols []string
	Err     error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscribe failed on %s for %d symbols: %v", e.Conn, len(e.Symbols), e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }

// TransportError covers dial failures, read/write failures, and closed
// connections. It always triggers reconnection with backoff.
type TransportError struct {
	Conn string
	Op   string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("feed transport %s on %s: %v", e.Op, e.Conn, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// DecodeError marks a single undecodable message. The message is
// skipped and streaming continues.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("feed decode: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
