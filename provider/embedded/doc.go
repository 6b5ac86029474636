// Package embedded implements the go-member-auth backend contract on top of
// a local bun database.
//
// It stands in for the hosted backend in single binary deployments, the
// portal CLI and integration tests: members are verified with bcrypt,
// sessions are HS256 access tokens, and the failed login and password reset
// procedures run against the same tables the hosted service exposes.
package embedded
