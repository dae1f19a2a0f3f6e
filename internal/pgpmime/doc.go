// Package pgpmime assembles and reads RFC 3156 multipart/encrypted
// messages.
//
// A built message has exactly two parts: the application/pgp-encrypted
// version part and the application/octet-stream part carrying the
// ciphertext. The real message structure, including Autocrypt-Gossip
// headers, lives inside the ciphertext; see BuildPlaintext.
package pgpmime
