/*
Package ports defines the driven ports (interfaces) of the ledger engine.

These interfaces decouple the command engine from storage backends so that the
same engine runs over a local file, SQLite, Redis or memory.

# Key Interfaces

  - Journal: append-only, gap-free log of committed command records.
  - DistributedLocker: writer lock taken for the engine's lifetime (Redis across processes, memory within one).

RunJournalContract verifies that an adapter honors the Journal contract.
*/
package ports
