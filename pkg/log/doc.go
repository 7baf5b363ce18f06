/*
Package log provides the structured logger shared by every Rostra
component: the event store, the reconciliation RPC client/server, the
directory publisher/resolver, and the background sync tasks.

It wraps zerolog. Init sets the global Logger once at process startup;
everything else derives a child logger via WithComponent, WithIdentity,
WithPeer or WithTask so that log lines can be filtered by which part of
the substrate emitted them without touching call sites.
*/
package log
