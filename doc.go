// Package credentials implements the credential and token lifecycle for
// registered accounts: signed bearer token issuance and verification,
// refresh token rotation with a single live session per account, and the
// token-gated account state machine (confirmation, email change, password
// reset).
//
// Token classes:
//   - Access tokens are short-lived signed claim sets verified by
//     signature alone; they are never persisted.
//   - Refresh tokens are long-lived signed claim sets backed by a
//     RefreshSession row, so they can be revoked and rotated. Presenting
//     a refresh token, valid or not, leaves at most one live session for
//     the account.
//   - Confirmation and reset tokens are opaque capability strings looked
//     up by exact value; their safety rests on entropy and short windows.
//
// Wiring:
//   - RepositoryManager aggregates the Accounts and RefreshSessions
//     repositories over a bun.DB and provides the transactional boundary.
//   - RefreshSessionManager owns issue/rotate/revoke. AccountLifecycle
//     owns the confirmation, email-change, and reset sub-machines.
//     Authenticator orchestrates signup, login, and password changes on
//     top of both.
//   - Notifier and ActivitySink are best-effort collaborators; failures
//     are logged, never surfaced to the caller.
package credentials
