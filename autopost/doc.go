// Automated publishing for many independent accounts, with per-destination suspension when moderators step in.
//
// This package (`github.com/heraldhq/herald/autopost`) ties together the pieces which run on behalf of each account: a supervised publishing loop per account (`publisher`), the freeze ledger and the hooks which drive it from inbound messages (`freeze`), a presence radar over watched identities (`radar`), keyword auto-replies behind a cooldown gate (`replies`, `cooldown`), and expiry of temporary memberships (`reaper`). The remote network is reached only through the `transport` interface.
//
// See `cmd/heraldd` for a daemon built on this package.
package autopost
