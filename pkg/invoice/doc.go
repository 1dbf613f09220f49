// Package invoice implements the invoice ledger: line items, totals, status
// moves and numbering.
//
// Totals are always derived. Every item, discount or tax change runs
// Recalculate, and AmountDue is computed from Total and AmountPaid rather than
// stored. Invoices move through these states:
//
//	draft -> pending -> paid -> refunded
//	           |    \
//	           |     -> overdue -> paid
//	           v
//	       cancelled
//
// MarkPaid is idempotent: paying an already paid invoice reports false and
// changes nothing. Numbers look like INV-2025-000042 and are unique per year;
// the sequence itself is owned by the store.
package invoice
