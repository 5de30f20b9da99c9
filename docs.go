// rp (relying party) provides a collection of related packages which enable
// support for the relying-party side of OpenID Connect authentication:
// protocol flows, token validation, sessions, caching and claims-based
// authorization.
//
// See README.md
package rp
