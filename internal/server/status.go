package server

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"git.home.luguber.info/inful/docpublisher/internal/eventstore"
	ferrors "git.home.luguber.info/inful/docpublisher/internal/foundation/errors"
)

const statusPageHead = `<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>docpublisher status</title>
<style>body{font-family:sans-serif;margin:2em}table{border-collapse:collapse}td,th{border:1px solid #ccc;padding:4px 8px}</style>
</head><body>
`

var statusMarkdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	md := renderStatusMarkdown(s.opts.History.Pending(), s.opts.History.GetHistory(), time.Since(s.started))

	var body bytes.Buffer
	body.WriteString(statusPageHead)
	if err := statusMarkdown.Convert([]byte(md), &body); err != nil {
		s.errorAdapter.WriteErrorResponse(w, r, ferrors.WrapError(err, ferrors.CategoryInternal, "failed to render status page").Build())
		return
	}
	body.WriteString("</body></html>\n")

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body.Bytes())
}

// renderStatusMarkdown builds the status page as a GFM document.
func renderStatusMarkdown(pending, history []*eventstore.RunSummary, uptime time.Duration) string {
	var b strings.Builder
	b.WriteString("# Documentation publisher\n\n")
	fmt.Fprintf(&b, "Uptime: %s\n\n", uptime.Round(time.Second))

	b.WriteString("## Pending\n\n")
	if len(pending) == 0 {
		b.WriteString("No queued or running runs.\n\n")
	} else {
		writeRunTable(&b, pending)
	}

	b.WriteString("## Recent runs\n\n")
	if len(history) == 0 {
		b.WriteString("No completed runs yet.\n")
	} else {
		writeRunTable(&b, history)
	}
	return b.String()
}

func writeRunTable(b *strings.Builder, runs []*eventstore.RunSummary) {
	title := cases.Title(language.English)
	b.WriteString("| Run | Status | Trigger | Revision | Queued | Duration | Detail |\n")
	b.WriteString("|-----|--------|---------|----------|--------|----------|--------|\n")
	for _, run := range runs {
		detail := run.Error
		if run.FailedStage != "" {
			detail = run.FailedStage + ": " + detail
		}
		if run.PublishedCommit != "" {
			detail = "published " + shortHash(run.PublishedCommit)
		}
		revision := shortHash(run.Commit)
		if revision == "" {
			revision = shortHash(run.Revision)
		}
		duration := ""
		if run.Duration > 0 {
			duration = run.Duration.Round(time.Millisecond).String()
		}
		fmt.Fprintf(b, "| `%s` | %s | %s | %s | %s | %s | %s |\n",
			run.RunID,
			title.String(string(run.Status)),
			escapeCell(run.Trigger),
			escapeCell(revision),
			run.QueuedAt.UTC().Format(time.RFC3339),
			duration,
			escapeCell(detail))
	}
	b.WriteString("\n")
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "|", `\|`)
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
