// Package identity derives the canonical identity used for assertion
// issuance from an optional directory record and the caller-supplied email.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/pandolabs/mockidp/pkg/directory"
)

// Identity is the normalized identity placed into the assertion claim set.
type Identity struct {
	// SubjectID is never empty. When a directory record exists it is the
	// directory's authoritative employee id (with the uid and then the
	// caller-supplied fallback filling in when the schema omits it), never
	// the raw untrusted input.
	SubjectID  string `json:"subjectId"`
	Email      string `json:"email"`
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	EmployeeID string `json:"employeeId,omitempty"`
}

// Derive builds the canonical identity.
//
// With a directory record, each field prefers the directory value and falls
// back to what can be derived from the supplied email; the subject id falls
// back to fallbackSubjectID (the already-validated caller value) only when
// the record carries neither an employee id nor a uid.
//
// Without a record, the subject id is a deterministic digest of the email,
// so repeated issuance for the same email yields the same subject.
func Derive(rec *directory.Record, email, fallbackSubjectID string) Identity {
	first, last := NamesFromEmail(email)
	id := Identity{
		Email:     email,
		FirstName: first,
		LastName:  last,
	}
	if rec == nil {
		id.SubjectID = HashedSubjectID(email)
		return id
	}

	switch {
	case rec.EmployeeID != "":
		id.SubjectID = rec.EmployeeID
	case rec.UID != "":
		id.SubjectID = rec.UID
	default:
		id.SubjectID = fallbackSubjectID
	}
	if rec.Mail != "" {
		id.Email = rec.Mail
	}
	if rec.GivenName != "" {
		id.FirstName = rec.GivenName
	}
	if rec.Surname != "" {
		id.LastName = rec.Surname
	}
	id.EmployeeID = rec.EmployeeID
	return id
}

// HashedSubjectID returns a fixed-width, non-reversible subject identifier
// derived from the email.
func HashedSubjectID(email string) string {
	sum := sha256.Sum256([]byte(email))
	return hex.EncodeToString(sum[:])
}

// NamesFromEmail extracts a first and last name from the local part of an
// email address. The local part is split on '.', '_' and '-'; with two or
// more segments the first two become the first and last name. A single
// segment is used for both.
func NamesFromEmail(email string) (first, last string) {
	local := email
	if at := strings.IndexByte(email, '@'); at >= 0 {
		local = email[:at]
	}
	parts := strings.FieldsFunc(local, func(r rune) bool {
		return r == '.' || r == '_' || r == '-'
	})
	switch {
	case len(parts) >= 2:
		return capitalize(parts[0]), capitalize(parts[1])
	case len(parts) == 1:
		c := capitalize(parts[0])
		return c, c
	default:
		return "", ""
	}
}

func capitalize(s string) string {
	if s == "" {
		return ""
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}
