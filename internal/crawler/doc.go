// Package crawler implements the bounded breadth-first crawl: the frontier,
// the session loop that ties politeness, fetching, extraction and cleanup
// together, and a concurrent fan-out over an explicit URL list.
package crawler
