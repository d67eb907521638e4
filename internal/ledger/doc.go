// Package ledger houses blockchain connectivity: the RPC client used to
// verify payment transactions, the signing identity, and bindings for the
// identity, reputation, validation and payment contracts consumed by the
// orchestration core through narrow read/write interfaces.
package ledger
