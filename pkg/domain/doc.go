/*
Package domain contains the core types shared by every layer of the ledger engine.

It is kept free of I/O so that adapters, the runtime and user code can depend on
it without pulling in storage or transport concerns.

# Key Types

  - Record: one committed command in the journal (sequence, name, arguments, allocated ids).
  - Args: the argument bag of a command, with typed accessors.
  - EntityType / ViewType: names for entity families and their projections.
  - EngineState: the Unstarted -> Starting -> Running -> Stopped lifecycle.
  - LifecycleHooks: observability callbacks.

Errors are exposed as sentinels (ErrNotFound, ErrRecovery, ...) and typed
structs that match them through errors.Is.
*/
package domain
