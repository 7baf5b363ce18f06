/*
Package connpool is the address→connection cache sync tasks and RPC
callers share: a live transport connection per identity, reused as
long as it answers a liveness ping, backed off per-peer so a
misbehaving or offline identity doesn't trigger a reconnect storm
(spec.md §4.9).

A Pool never dials the network itself — Dial and Resolve are supplied
by the caller (package sync), so this package stays agnostic of the
transport (package rpc) and directory (package directory)
implementations it sits between.
*/
package connpool
