// Package queue carries conversion jobs from the API to the workers and
// records their lifecycle.
//
// Two backends implement Backend: Store persists jobs in SQLite (the default,
// single host or shared volume) and RedisBroker distributes them over a Redis
// Streams consumer group. Both expose the same status tokens so the status
// reconciler does not care which one is configured.
//
// The SQLite database is transient storage for in-flight and recently
// finished jobs. Schema changes bump schemaVersion in schema.go; operators
// delete the database to adopt the new schema.
package queue
