package store

import bolt "go.etcd.io/bbolt"

var (
	bucketIdentities         = []byte("identities")
	bucketEvents             = []byte("events")
	bucketEventsByTime       = []byte("events_by_time")
	bucketEventsHeads        = []byte("events_heads")
	bucketEventsMissing      = []byte("events_missing")
	bucketEventsSelf         = []byte("events_self")
	bucketEventsContentState = []byte("events_content_state")
	bucketContentMissingPQ   = []byte("events_content_missing")
	bucketContentMissingIdx  = []byte("events_content_missing_by_id")
	bucketEventsSingleton    = []byte("events_singleton")
	bucketIdsFollowees       = []byte("ids_followees")
	bucketIdsFollowers       = []byte("ids_followers")
	bucketIdsUnfollowed      = []byte("ids_unfollowed")
	bucketIdsNodes           = []byte("ids_nodes")
)

func ensureBuckets(tx *bolt.Tx) error {
	buckets := [][]byte{
		bucketIdentities,
		bucketEvents,
		bucketEventsByTime,
		bucketEventsHeads,
		bucketEventsMissing,
		bucketEventsSelf,
		bucketEventsContentState,
		bucketContentMissingPQ,
		bucketContentMissingIdx,
		bucketEventsSingleton,
		bucketIdsFollowees,
		bucketIdsFollowers,
		bucketIdsUnfollowed,
		bucketIdsNodes,
	}
	for _, b := range buckets {
		if _, err := tx.CreateBucketIfNotExists(b); err != nil {
			return err
		}
	}
	return nil
}
