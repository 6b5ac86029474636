// Package supabase implements the go-member-auth backend contract against a
// hosted Supabase project over its REST surface (GoTrue auth, PostgREST
// tables and RPC).
//
// The client keeps the current session in memory and emits auth events
// locally, the same way the JavaScript client does, so an auth.Bridge can
// subscribe to it.
package supabase
