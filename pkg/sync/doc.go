/*
Package sync runs the background tasks that keep the local store
converging with the rest of the network: publishing the node's own
directory record, long-polling followees and followers for new heads,
reacting to the new_heads broadcast, sweeping the web of trust as a
safety net, walking an author's DAG backwards to fill gaps, and
draining the content-fetch queue.

Every task is a long-lived goroutine owned by a Tasks value; Start
launches all of them, Stop tears them down. Tasks hold concrete
*store.Store, *connpool.Pool and *directory.Publisher values; the
package's tests run them against a real store and a live RPC server
rather than fakes.
*/
package sync
