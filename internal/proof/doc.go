// Package proof notarizes successful tool executions on the validation
// registry. Recording is best-effort infrastructure: a missing signer or a
// failed submission never blocks delivering the tool result to the user.
package proof
