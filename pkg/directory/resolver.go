package directory

import (
	"context"
	"fmt"

	"github.com/go-ldap/ldap/v3"
)

// Directory attribute names used to key the three lookup strategies.
const (
	AttrAlternateSubjectID = "alternatesubjectid"
	AttrEmployeeID         = "employeeid"
	AttrMail               = "mail"
)

// DefaultAttributes is the attribute projection requested when the caller
// does not supply one.
var DefaultAttributes = []string{
	"cn",
	"mail",
	"uid",
	"givenName",
	"sn",
	"displayName",
	AttrEmployeeID,
	AttrAlternateSubjectID,
}

// Record is a single resolved directory entry. Every attribute except DN is
// optional; the directory schema may omit any of them.
type Record struct {
	DN                 string
	CommonName         string
	Mail               string
	UID                string
	GivenName          string
	Surname            string
	DisplayName        string
	EmployeeID         string
	AlternateSubjectID string
}

// Resolver looks up identities in the directory. It is stateless and safe
// for concurrent use; each lookup opens and releases its own connection.
type Resolver struct {
	conf Config
}

// NewResolver validates the configuration and returns a resolver built from
// it.
func NewResolver(conf Config) (*Resolver, error) {
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("directory: %w", err)
	}
	return &Resolver{conf: conf}, nil
}

// ResolveBySubjectID searches for the entry whose alternate subject id
// attribute matches key. It returns nil with no error when the directory has
// no match.
func (r *Resolver) ResolveBySubjectID(ctx context.Context, key string, attributes ...string) (*Record, error) {
	const op = "directory.(Resolver).ResolveBySubjectID"
	return r.resolve(ctx, op, AttrAlternateSubjectID, key, attributes)
}

// ResolveByEmployeeID searches for the entry whose employee id attribute
// matches key.
func (r *Resolver) ResolveByEmployeeID(ctx context.Context, key string, attributes ...string) (*Record, error) {
	const op = "directory.(Resolver).ResolveByEmployeeID"
	return r.resolve(ctx, op, AttrEmployeeID, key, attributes)
}

// ResolveByEmail searches for the entry whose mail attribute matches key.
func (r *Resolver) ResolveByEmail(ctx context.Context, key string, attributes ...string) (*Record, error) {
	const op = "directory.(Resolver).ResolveByEmail"
	return r.resolve(ctx, op, AttrMail, key, attributes)
}

// Ping verifies that the directory is reachable and accepts the service
// bind. Used by readiness probes.
func (r *Resolver) Ping(ctx context.Context) error {
	const op = "directory.(Resolver).Ping"
	if err := ctx.Err(); err != nil {
		return &LookupError{Op: op, Err: err}
	}
	conn, err := r.conf.dial()
	if err != nil {
		return &LookupError{Op: op, Err: err}
	}
	defer conn.Close()
	if err := r.bind(conn); err != nil {
		return &LookupError{Op: op, Err: err}
	}
	return nil
}

func (r *Resolver) resolve(ctx context.Context, op, attr, key string, attributes []string) (*Record, error) {
	if key == "" {
		return nil, fmt.Errorf("%s: missing key: %w", op, ErrInvalidParameter)
	}
	if attributes == nil {
		attributes = DefaultAttributes
	}
	if len(attributes) == 0 {
		return nil, fmt.Errorf("%s: attribute list must be non-empty: %w", op, ErrInvalidParameter)
	}
	if err := ctx.Err(); err != nil {
		return nil, &LookupError{Op: op, Err: err}
	}

	conn, err := r.conf.dial()
	if err != nil {
		return nil, &LookupError{Op: op, Err: err}
	}
	// Release on every exit path, including search failure.
	defer conn.Close()

	if err := r.bind(conn); err != nil {
		return nil, &LookupError{Op: op, Err: fmt.Errorf("service bind failed: %w", err)}
	}

	filter := fmt.Sprintf("(%s=%s)", attr, EscapeFilterValue(key))
	result, err := conn.Search(&ldap.SearchRequest{
		BaseDN:     r.conf.BaseDN,
		Scope:      ldap.ScopeWholeSubtree,
		Filter:     filter,
		Attributes: attributes,
	})
	if err != nil {
		return nil, &LookupError{Op: op, Err: fmt.Errorf("search failed: %w", err)}
	}
	if len(result.Entries) == 0 {
		return nil, nil
	}
	// More than one match keeps only the first. Intentional; the directory
	// keys used here are expected to be unique in practice.
	return recordFromEntry(result.Entries[0]), nil
}

func (r *Resolver) bind(conn *ldap.Conn) error {
	if r.conf.BindDN == "" {
		return nil
	}
	if r.conf.BindPassword == "" {
		return conn.UnauthenticatedBind(r.conf.BindDN)
	}
	return conn.Bind(r.conf.BindDN, r.conf.BindPassword)
}

func recordFromEntry(entry *ldap.Entry) *Record {
	return &Record{
		DN:                 entry.DN,
		CommonName:         entry.GetEqualFoldAttributeValue("cn"),
		Mail:               entry.GetEqualFoldAttributeValue("mail"),
		UID:                entry.GetEqualFoldAttributeValue("uid"),
		GivenName:          entry.GetEqualFoldAttributeValue("givenName"),
		Surname:            entry.GetEqualFoldAttributeValue("sn"),
		DisplayName:        entry.GetEqualFoldAttributeValue("displayName"),
		EmployeeID:         entry.GetEqualFoldAttributeValue(AttrEmployeeID),
		AlternateSubjectID: entry.GetEqualFoldAttributeValue(AttrAlternateSubjectID),
	}
}
