// Package site owns the parts of the generated site the publisher writes or
// inspects itself: the root redirect page, a post-write sanity check of that
// page, and the exclude filter applied when publishing.
package site
