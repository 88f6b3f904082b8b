// Package cache is the request-level caching layer of the service.
//
// Keys are plain strings of the form
//
//	namespace:name1=value1:name2=value2
//
// with parameter names sorted, so they can be inspected and deleted by
// prefix with ordinary Redis tooling. Analysis results are keyed by a
// fingerprint of the reviews being analysed rather than by the review text.
//
// Two entry points sit on top of the Store:
//
//   - ReadThrough, an HTTP middleware for GET endpoints that proxy the app
//     stores;
//   - WithCache, a wrapper for expensive calls such as LLM analysis.
//
// The cache only ever makes things faster. Every Store method swallows its
// errors, a refused connection switches caching off for the life of the
// process, and a disabled Store turns all of the above into pass-throughs.
package cache
