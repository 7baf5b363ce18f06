/*
Package client is the embedded façade a host process opens to run one
Rostra node: it owns the store, the derived social index, the
connection pool, directory publishing, the RPC server, and the
background sync tasks, and exposes the handful of write operations an
application actually performs (spec.md §6).

	c, err := client.Open(client.Options{
		DataDir:    cfg.DataDir,
		Secret:     secret,
		ListenAddr: cfg.ListenAddr,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close()

	if _, err := c.Post(content.SocialPost{Text: "hello rostra"}); err != nil {
		log.Fatal(err)
	}

See also pkg/store for the underlying transactional index and pkg/sync
for the background tasks this package starts.
*/
package client
