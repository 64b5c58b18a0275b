// Package analysis is the request-orchestration layer between callers that
// hold chart images and the remote vision model that produces analysis text.
//
// A call travels: validation → cache key → response cache → in-flight
// de-duplication → rate-limited dispatch → retrying remote invocation →
// cache write. At most one remote call is ever in flight per cache key.
package analysis
