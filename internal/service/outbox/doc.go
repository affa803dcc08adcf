// Package outbox implements the enqueue-side business logic for the
// dispatch pipeline: creating one-off statement jobs, expanding due
// reminder rules into runs and jobs, and the admin operations (list,
// cancel, retry) exposed over the API.
//
// The service depends on repository interfaces defined in this package and
// should never import from api/. Repository implementations live in
// repository/postgres/.
package outbox
