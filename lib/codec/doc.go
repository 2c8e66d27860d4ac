// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the CBOR encoding configuration shared by the
// worker protocols.
//
// Two payload formats cross process boundaries in buildexec:
//
//   - CBOR for the BINARY downward encoding (events flowing from a
//     worker back to the orchestrator) and for worker-tool command
//     envelopes (commands flowing from the orchestrator to a worker).
//   - JSON for the TEXT downward encoding, which exists for debugging
//     and for workers written in languages without a CBOR library.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2): sorted
// map keys, smallest integer encoding, no indefinite-length items. The
// same event always produces identical bytes, which keeps captured
// event streams diffable.
//
// For buffer-oriented operations (one framed event payload):
//
//	data, err := codec.Marshal(event)
//	err = codec.Unmarshal(data, &event)
//
// For stream-oriented operations (the command pipe):
//
//	encoder := codec.NewEncoder(pipe)
//	decoder := codec.NewDecoder(pipe)
//
// # Struct Tag Rules
//
// Event payload types carry `json` tags only. fxamacker/cbor reads
// `json` tags when `cbor` tags are absent, so one tag controls field
// naming for both encodings. Types that only ever travel as CBOR (the
// command envelope) use `cbor` tags. Never put both on one field.
package codec
