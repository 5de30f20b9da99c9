/*
callback provides http.HandlerFunc(s) for driving a relying party's
authentication flows end to end: a Login handler that builds the
authorization request and redirects to the provider, a Callback handler
that validates the provider's response (redirect or form_post), exchanges
the authorization code, verifies the returned tokens and establishes a
session, and a Logout handler that tears the session down.
*/
package callback
