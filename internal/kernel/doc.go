// Package kernel implements the content-addressing core of wofi.
//
// Every kernel object is a JSON document with a type discriminator
// (wofi.idea.v1, wofi.edge.v1, ...), a schema_version, and a created_at
// timestamp. Its identity is a content id derived from its semantic fields:
//
//	content_id = "sha256:" + hex(sha256(Canonicalize(ToContentObject(obj))))
//
// ToContentObject strips the transport fields (content_id, signature,
// author) and every null value. Canonicalize produces the exact byte form
// other wofi implementations hash, so its output must never change:
//
//   - object keys sorted by UTF-16 code unit
//   - strings escaped the way ECMAScript JSON.stringify escapes them
//   - numbers rendered with ECMAScript Number::toString
//   - no insignificant whitespace
//
// The package also owns structural validation (CUE definitions embedded from
// schema.cue), cross-field invariants, and ed25519 signatures over the same
// canonical bytes used for addressing.
package kernel
