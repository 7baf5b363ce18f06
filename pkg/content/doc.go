/*
Package content implements the content-addressed blob store that sits
underneath the event store: a ContentHash-keyed byte store with a
parallel reference counter, plus the CBOR payload codecs for each
event kind's content (social posts, profile updates, follow edges,
node announcements, shoutbox messages).

Refcounting exists because two events from different authors (a
reaction and the post it quotes, a re-shared media blob) can point at
byte-identical content; Put and Release keep that content resident for
as long as any event still needs it.
*/
package content
