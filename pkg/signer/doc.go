// Package signer builds and signs SAML responses.
//
// The XMLSigner assembles a Response/Assertion pair with etree, signs the
// assertion with an enveloped XML digital signature, and returns the
// serialized document. RenderAutoPostForm wraps an encoded response in the
// self-submitting HTML form used by the POST binding.
package signer
