/*
Package event implements Rostra's fixed-layout, content-addressed event
header: the unit that an author signs and that a peer replicates.

An Event is 100% canonically encodable — the same header always
serializes to the same bytes, which is what makes BLAKE3(header) a
stable EventId across every peer that ever receives it (spec.md §3.3).
Content is never part of the header; only its length and hash are, so
an event can be verified, hashed, signed and propagated before its
(possibly large, possibly never-arriving) content blob shows up.

Build, Sign and VerifyReceived mirror the three places an event
changes hands: assembly by the local author, signing before it leaves
the process, and verification on ingest from a peer or from local
storage.
*/
package event
