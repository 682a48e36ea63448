// Package pipeline is the entry point for every read and write.
//
// Each operation runs through a fixed state machine:
//
//	schema_lookup -> permission_check -> fee_check [-> awaiting_payment] -> execute -> completed
//	      |                 |                 |                |              |
//	      +-----------------+-----------------+----------------+--------------+--> rejected
//
// No stage is skipped, and nothing is written to the store before the fee
// check has passed. A rejection at any stage before execute leaves the store
// untouched. The pipeline holds no lock and owns no persistent state; the
// only suspension point besides storage I/O is waiting for payment, which
// honors the caller's context and the configured payment wait.
//
// Every rejection is a *Rejection carrying a code, the stage that produced
// it, and the details a caller needs to decide whether to retry, request a
// grant, or pay.
package pipeline
