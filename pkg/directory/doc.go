/*
Package directory publishes and resolves the signed, DNS-shaped record
every identity advertises itself under: a connection ticket and the
identity's current head (spec.md §4.8, §6.1).

Resolution races two independent lookups — a Kademlia-style DHT table
and an HTTP relay — and takes whichever answers first; either lookup
failing is not fatal as long as the other succeeds. Publication writes
to both backends but never blocks on durability: the next publish
period papers over a lost write.
*/
package directory
