// Package autoauth implements the client-side auto-authentication
// orchestrator: a single-shot state machine that decides, from the shape of
// an inbound page request, whether to silently resolve-and-issue against
// the identity provider or to fall back to interactive email entry.
//
// The machine is single-threaded cooperative: every transition is driven
// synchronously by the outcome of the previous network call, and a
// successful issuance terminates the run for good.
package autoauth
