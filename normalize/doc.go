// Package normalize rewrites catalog text for embedding generation.
//
// Expansion is dictionary driven: known abbreviations are replaced with
// their full terms so the embedding sees semantically rich text. The
// expanded form is ephemeral; destination rows always store the original
// text, which downstream systems (invoices, UI) print verbatim.
package normalize
