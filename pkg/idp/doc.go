// Package idp implements the identity provider core: the issue-vs-redirect
// decision logic over the directory resolver and the assertion signer, and
// the HTTP surface exposing resolution, issuance, metadata and profile
// discovery.
//
// Two issuance policies are supported. The permissive policy trusts the
// caller-supplied subject id and performs no directory lookup. The
// directory policy treats the caller-supplied subject id as a directory
// key, enforces a domain allow-list before any lookup, and refuses
// issuance (signaling a redirect to interactive login) when the directory
// yields no record.
package idp
