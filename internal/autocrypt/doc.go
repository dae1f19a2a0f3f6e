// Package autocrypt encodes and decodes Autocrypt key-exchange headers.
//
// An Autocrypt header value is a single line of semicolon-separated
// attributes:
//
//	addr=alice@example.org; prefer-encrypt=mutual; keydata=mQENBF...
//
// The same grammar is used for Autocrypt-Gossip headers, which describe
// a co-recipient and only ever appear inside an encrypted payload.
//
// Everything in this package is pure: decoding a header never touches
// peer state. Deciding what a decoded header means for a stored peer is
// the job of package peerstate.
package autocrypt
