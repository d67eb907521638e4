// Package payment implements the pay-per-call gate: price quoting against a
// cached exchange rate, on-chain payment verification, replay prevention and
// the credits-mode bypass.
package payment
