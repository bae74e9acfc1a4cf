package logfields

import (
	"log/slog"
	"time"
)

// Canonical log field name constants to avoid drift across packages.
const (
	KeyRunID      = "run_id"
	KeyRunStatus  = "run_status"
	KeyTrigger    = "trigger"
	KeyStage      = "stage"
	KeyDurationMS = "duration_ms"
	KeyBranch     = "branch"
	KeyRevision   = "revision"
	KeyCommit     = "commit"
	KeyRepo       = "repository"
	KeyURL        = "url"
	KeyPath       = "path"
	KeyFile       = "file"
	KeyCommand    = "command"
	KeyStream     = "stream"
	KeyEvent      = "event"
	KeyForgeType  = "forge_type"
	KeyMethod     = "method"
	KeyRemoteAddr = "remote_addr"
	KeyStatus     = "status"
	KeyUserAgent  = "user_agent"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func RunID(id string) slog.Attr        { return slog.String(KeyRunID, id) }
func RunStatus(s string) slog.Attr     { return slog.String(KeyRunStatus, s) }
func Trigger(t string) slog.Attr       { return slog.String(KeyTrigger, t) }
func Stage(name string) slog.Attr      { return slog.String(KeyStage, name) }
func Branch(b string) slog.Attr        { return slog.String(KeyBranch, b) }
func Revision(r string) slog.Attr      { return slog.String(KeyRevision, r) }
func Repository(r string) slog.Attr    { return slog.String(KeyRepo, r) }
func URL(u string) slog.Attr           { return slog.String(KeyURL, u) }
func Path(p string) slog.Attr          { return slog.String(KeyPath, p) }
func File(f string) slog.Attr          { return slog.String(KeyFile, f) }
func Command(c string) slog.Attr       { return slog.String(KeyCommand, c) }
func Stream(s string) slog.Attr        { return slog.String(KeyStream, s) }
func Event(e string) slog.Attr         { return slog.String(KeyEvent, e) }
func ForgeType(f string) slog.Attr     { return slog.String(KeyForgeType, f) }
func Method(m string) slog.Attr        { return slog.String(KeyMethod, m) }
func RemoteAddr(a string) slog.Attr    { return slog.String(KeyRemoteAddr, a) }
func Status(code int) slog.Attr        { return slog.Int(KeyStatus, code) }
func UserAgent(ua string) slog.Attr    { return slog.String(KeyUserAgent, ua) }
func Duration(d time.Duration) slog.Attr {
	return slog.Float64(KeyDurationMS, float64(d.Microseconds())/1000)
}

// Commit shortens full hashes to eight characters.
func Commit(hash string) slog.Attr {
	if len(hash) > 8 {
		hash = hash[:8]
	}
	return slog.String(KeyCommit, hash)
}

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
