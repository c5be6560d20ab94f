/*
Package servicestore owns the service spec lifecycle.

Create validates a spec, resolves its image reference to a pinned
digest, fills defaults and persists it at version 1. Update re-runs
the same validation and resolution, bumps the version and leaves the
rest to the reconciler: tasks created from an older version are
replaced through a rolling update. Remove only marks the service;
teardown of its tasks and the final purge happen asynchronously in
the reconcile loop, and removal is idempotent.

Validation rejects a spec before it is stored, so the cluster never
holds a service it cannot act on: unknown modes, replica counts on
global services, malformed constraints, out-of-range or duplicate
published ports, and health checks missing their endpoint or command
all fail with ErrInvalidSpec.

Image resolution pins the operator-supplied reference to a content
digest once, at spec admission. Every task of a given service version
runs the identical pinned image regardless of when it was created.
*/
package servicestore
