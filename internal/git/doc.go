// Package git wraps go-git for the three repository operations the publisher
// needs: a clean checkout of the source at a revision, an ls-remote of the
// primary branch head, and replacing the hosting branch with a freshly built
// orphan commit.
//
// Publishing never touches a working tree. The site directory is hashed into
// blobs and trees inside a throwaway repository and pushed as a single forced
// ref update, so a failed push leaves the remote branch exactly as it was.
package git
