package directory

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
)

const (
	schemeLDAP    = "ldap"
	schemeLDAPTLS = "ldaps"
)

// Default configuration values, used by Config.Validate when the
// corresponding field is unset.
const (
	DefaultURL            = "ldap://localhost:3893"
	DefaultBaseDN         = "dc=glauth,dc=com"
	DefaultTimeout        = 10 * time.Second
	DefaultConnectTimeout = 20 * time.Second
)

// Config holds the connection settings for the directory service.
type Config struct {
	// URL is the directory address, scheme ldap:// or ldaps://.
	URL string

	// BaseDN is the root of the subtree searched by every lookup.
	BaseDN string

	// BindDN and BindPassword identify the low-privilege service account
	// used for every search. An empty password results in an
	// unauthenticated bind.
	BindDN       string
	BindPassword string

	// Timeout bounds each directory operation after the connection is
	// established.
	Timeout time.Duration

	// ConnectTimeout bounds connection establishment.
	ConnectTimeout time.Duration

	// Certificate is an optional PEM-encoded CA certificate used to verify
	// the directory server when the scheme is ldaps.
	Certificate string

	// InsecureTLS skips server certificate verification. Test use only.
	InsecureTLS bool
}

// Validate fills in defaults and rejects unusable configurations.
func (c *Config) Validate() error {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.BaseDN == "" {
		c.BaseDN = DefaultBaseDN
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("invalid directory URL %q: %w", c.URL, err)
	}
	switch u.Scheme {
	case schemeLDAP, schemeLDAPTLS:
	default:
		return fmt.Errorf("invalid directory URL scheme %q (must be ldap or ldaps)", u.Scheme)
	}
	return nil
}

// ErrInvalidParameter is returned when a caller violates a lookup
// precondition, before any directory round trip happens.
var ErrInvalidParameter = errors.New("invalid parameter")

// LookupError reports a failed directory round trip: the connection could
// not be established, the service bind was rejected, or the search itself
// errored. It is distinct from a lookup that succeeds but matches nothing.
type LookupError struct {
	Op  string
	Err error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("%s: directory lookup failed: %v", e.Op, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

// IsLookupFailure reports whether err originates from a failed directory
// round trip.
func IsLookupFailure(err error) bool {
	var le *LookupError
	return errors.As(err, &le)
}

// EscapeFilterValue escapes an untrusted value for interpolation into an
// LDAP search filter. Exactly the characters NUL, '(', ')', '*' and '\' are
// replaced with their hexadecimal escape form; everything else passes
// through unchanged. This keeps attacker-controlled keys from altering the
// boolean structure of the filter.
func EscapeFilterValue(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	for i := 0; i < len(value); i++ {
		switch value[i] {
		case 0x00:
			b.WriteString(`\00`)
		case '(':
			b.WriteString(`\28`)
		case ')':
			b.WriteString(`\29`)
		case '*':
			b.WriteString(`\2a`)
		case '\\':
			b.WriteString(`\5c`)
		default:
			b.WriteByte(value[i])
		}
	}
	return b.String()
}

// dial opens a connection to the configured directory, honoring the connect
// timeout and, for ldaps URLs, the configured trust settings. The caller
// owns the returned connection and must close it.
func (c *Config) dial() (*ldap.Conn, error) {
	u, err := url.Parse(c.URL)
	if err != nil {
		return nil, fmt.Errorf("error parsing url %q: %w", c.URL, err)
	}
	dialer := &net.Dialer{Timeout: c.ConnectTimeout}

	var conn *ldap.Conn
	switch u.Scheme {
	case schemeLDAP:
		conn, err = ldap.DialURL(c.URL, ldap.DialWithDialer(dialer))
	case schemeLDAPTLS:
		tlsConfig, tlsErr := c.tlsConfig(u.Host)
		if tlsErr != nil {
			return nil, tlsErr
		}
		conn, err = ldap.DialURL(c.URL, ldap.DialWithDialer(dialer), ldap.DialWithTLSConfig(tlsConfig))
	default:
		return nil, fmt.Errorf("invalid LDAP scheme in url %q", c.URL)
	}
	if err != nil {
		return nil, fmt.Errorf("error connecting to %q: %w", c.URL, err)
	}
	if c.Timeout > 0 {
		conn.SetTimeout(c.Timeout)
	}
	return conn, nil
}

func (c *Config) tlsConfig(hostport string) (*tls.Config, error) {
	host, _, err := net.SplitHostPort(hostport)
	if err != nil {
		host = hostport
	}
	tlsConfig := &tls.Config{ServerName: host}
	if c.InsecureTLS {
		tlsConfig.InsecureSkipVerify = true
	}
	if c.Certificate != "" {
		caPool := x509.NewCertPool()
		if ok := caPool.AppendCertsFromPEM([]byte(c.Certificate)); !ok {
			return nil, fmt.Errorf("could not append CA certificate for %q", host)
		}
		tlsConfig.RootCAs = caPool
	}
	return tlsConfig, nil
}
