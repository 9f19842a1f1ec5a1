// Package textutil normalizes user-supplied text: complaint SKUs pasted from
// spreadsheets or typed through a CJK input method, and original file names
// carried into attachment metadata.
package textutil
