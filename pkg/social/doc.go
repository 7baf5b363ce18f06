/*
Package social implements the derived-index updater for the
social-facing event kinds: posts, replies, reactions, profiles and
shoutbox messages (spec.md §3.6, §4.5).

It implements store.DerivedIndexUpdater and is wired into a
store.Store at client construction time; the store calls Insert when
an event's content arrives and Revert when that content later
transitions to Deleted. Every kind that keeps a counter or an edge
table implements both halves symmetrically so a delete never leaves
stale counts behind.
*/
package social
