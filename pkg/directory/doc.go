// Package directory resolves claimed identities against an LDAP directory.
//
// A Resolver owns no connection state: every lookup dials the directory,
// binds with the configured service identity, runs a single subtree search
// and releases the connection before returning. Lookup failures are reported
// as *LookupError and are never conflated with a missing entry, which is
// reported as a nil Record.
package directory
