// Package workspace manages the per-run scratch directories of the publisher.
//
// Every run gets a fresh directory (e.g. docpublisher-3f9c2a1e-1234567) that
// holds the source checkout and the throwaway repository used to assemble the
// hosting branch commit. Cleanup removes it completely, so no state leaks from
// one run into the next.
package workspace
