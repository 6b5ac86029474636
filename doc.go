// Package auth bridges a membership portal to a hosted auth backend. Members
// sign in with their member number, which is resolved to the email the
// backend knows them by.
//
// Session state:
//   - Store is the single source of truth read by the UI. It persists every
//     change through a SessionPersistence (BunPersistence keeps it under the
//     "auth-storage" key) and hydrates from it before the first auth event.
//   - Bridge subscribes to the backend auth stream and reads the current
//     session concurrently. Both feed one idempotent reducer so the result
//     does not depend on arrival order.
//
// Operations:
//   - Login resolves the member number, signs in and backfills the member
//     number into the user metadata. Failed attempts are reported to the
//     backend through handle_failed_login, successful ones reset the counter.
//     Both calls are fire and forget.
//   - Logout always clears the local state and navigates to the landing
//     route, even when the remote sign out fails.
//   - RequestPasswordReset asks the backend for a reset token and records a
//     pending email log carrying the reset URL. Delivery is not handled here.
//
// Unknown member numbers produce the same "Invalid member number" error for
// login and password reset.
//
// AuthController exposes the same operations as JSON over fiber, and
// RequireAuthentication guards routes that need a signed in member.
//
// Backends live under provider/: embedded runs on bun with SQLite, supabase
// talks to a hosted project over REST.
//
// Activity sinks:
//   - ActivitySink receives login, logout, reset and session change events.
//     Sinks run best-effort (errors are logged) so you can forward to a
//     database or queue without blocking authentication.
//   - activitymap normalizes events into a transport agnostic record.
package auth
