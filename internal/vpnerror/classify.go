package vpnerror

import (
	"context"
	"crypto/x509"
	"errors"
	"net"
	"os"
	"strings"
)

// Classify maps a raw error from an underlying library into the taxonomy.
// The mapping is best-effort: it inspects known error types first, then
// falls back to message keywords, and finally to Generic with the original
// message preserved.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var ve *Error
	if errors.As(err, &ve) {
		return ve
	}

	if errors.Is(err, context.Canceled) {
		return Canceled(err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout("operation", 0, err)
	}
	if errors.Is(err, os.ErrPermission) {
		return Permission(err.Error(), err)
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return Network("could not resolve "+dnsErr.Name, err)
	}
	var certErr x509.UnknownAuthorityError
	if errors.As(err, &certErr) {
		return VlessTLS("server certificate signed by unknown authority", err)
	}
	var hostErr x509.HostnameError
	if errors.As(err, &hostErr) {
		return VlessTLS("server certificate does not match hostname", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Timeout("network", 0, err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return Network(opErr.Error(), err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "auth", "credential", "denied key", "invalid user"):
		return Authentication(err.Error(), err)
	case containsAny(msg, "permission", "operation not permitted", "access is denied"):
		return Permission(err.Error(), err)
	case containsAny(msg, "certificate", "x509", "tls"):
		return VlessTLS(err.Error(), err)
	case containsAny(msg, "timeout", "timed out", "deadline"):
		return Timeout("operation", 0, err)
	case containsAny(msg, "refused", "unreachable", "no route", "network is down", "reset by peer"):
		return Network(err.Error(), err)
	}

	return Generic(err.Error(), err)
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
