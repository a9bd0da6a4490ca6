// The [feedsync] package is the client-side sync engine of a social feed.
//
// # Session
//
// A [Session] owns every component for one signed-in user and wires them together:
//
//   - a [store.RecordStore] holding posts, comments and profile summaries by id,
//   - a [querycache.Cache] mapping query keys (feed, explore, comments of a post, ...) to
//     pages of record ids, loaded through [api.Loader],
//   - a [mutation.Coordinator] applying likes, follows and comment edits optimistically,
//   - a [realtime.Channel] receiving notifications over STOMP,
//   - a [notification.Feed] keeping the deduplicated notification log.
//
// Use [Login] once to store the credential pair, then [Open] and [Session.Bootstrap].
//
// The record store and the query cache share one [store.Gate], so an optimistic
// projection that touches both is seen by readers either completely or not at all.
//
// # Credentials
//
// Only the access/refresh token pair is persisted, through a [credentials.Store].
// An expired access token is refreshed before the next request or reconnect.
package feedsync
