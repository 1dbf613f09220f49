// Package environment parses BILLING_ENV and carries the result through
// contexts for log enrichment.
package environment
