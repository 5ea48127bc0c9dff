// Package certcheck inspects the TLS certificate presented by the
// ingestion gateway so an operator hears about an expiring certificate
// before uploads start failing mid-run.
package certcheck
