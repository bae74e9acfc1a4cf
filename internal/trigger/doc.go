// Package trigger decides when a run should start: push webhooks from
// GitHub, Forgejo/Gitea and GitLab, and a scheduled poll of the remote
// branch head.
package trigger
