/*
Package store is the single transactional event store fronting every
per-author DAG table: events, the by-time index, the head set, the
missing-parent set, the local author's self-event index, the content
state map and its fetch-priority queue, and the follow graph.

Every mutating call runs inside a write transaction and registers
post-commit hooks on the accompanying Tx; hooks fire only once the
transaction is durable, and are the only mechanism by which watchers
(self head, followee/follower sets, web-of-trust snapshot) and
broadcast subscribers (new content, new heads, identities with missing
events) learn anything changed. Nothing in this package polls a table.
*/
package store
