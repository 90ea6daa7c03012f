// Package normalisers turns uploaded bytes into text the chunker can split.
// Each normaliser handles a set of MIME types; the Registry dispatches by
// MIME type and priority. Normalisers keep markdown structure (headings,
// list items, tables) so chunk boundaries can follow it.
package normalisers
