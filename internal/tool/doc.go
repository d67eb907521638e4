// Package tool holds the catalog of priced verification tools and the
// dispatcher that forwards tool invocations to their upstream endpoints.
package tool
