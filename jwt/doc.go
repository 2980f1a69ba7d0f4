// Package jwt issues and verifies operator tokens for the audit read API.
// Tokens carry a subject and a list of scopes; the HTTP layer checks for the
// scope a route requires.
package jwt
