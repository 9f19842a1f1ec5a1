// Package attachments stores credential images and binds them to complaints.
//
// Blobs live flat in the attachment directory under random names; the images
// table maps each blob to its original file name and a SHA-256 fingerprint of
// its bytes. The fingerprint is unique, so importing the same picture twice
// yields one row and one file no matter how the copies were named.
package attachments
