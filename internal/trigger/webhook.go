package trigger

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"

	ferrors "git.home.luguber.info/inful/docpublisher/internal/foundation/errors"
)

// Forge identifies the sender of a webhook.
type Forge string

const (
	ForgeGitHub  Forge = "github"
	ForgeForgejo Forge = "forgejo"
	ForgeGitLab  Forge = "gitlab"
	ForgeUnknown Forge = "unknown"
)

const zeroCommit = "0000000000000000000000000000000000000000"

// ErrInvalidSignature is returned when a webhook fails authentication.
var ErrInvalidSignature = ferrors.AuthError("invalid webhook signature").Build()

// PushEvent is the forge-neutral part of a push payload.
type PushEvent struct {
	Forge      Forge  `json:"forge"`
	Ref        string `json:"ref"`
	Branch     string `json:"branch"`
	After      string `json:"after"`
	Repository string `json:"repository,omitempty"`
	Pusher     string `json:"pusher,omitempty"`
}

// Decision is the outcome of evaluating a webhook delivery.
type Decision struct {
	Forge  Forge
	Event  string
	Push   *PushEvent
	Accept bool   // a run should be enqueued
	Reason string // why the delivery was ignored
}

// Webhook verifies and filters push deliveries for one trigger branch.
type Webhook struct {
	Secret string
	Branch string
}

// DetectForge inspects forge-specific headers and returns the forge and its event name.
func DetectForge(h http.Header) (Forge, string) {
	switch {
	case h.Get("X-Gitea-Event") != "":
		return ForgeForgejo, h.Get("X-Gitea-Event")
	case h.Get("X-Forgejo-Event") != "":
		return ForgeForgejo, h.Get("X-Forgejo-Event")
	case h.Get("X-GitHub-Event") != "":
		return ForgeGitHub, h.Get("X-GitHub-Event")
	case h.Get("X-Gitlab-Event") != "":
		return ForgeGitLab, h.Get("X-Gitlab-Event")
	default:
		return ForgeUnknown, ""
	}
}

// Evaluate authenticates the delivery and decides whether it starts a run.
// Only authentication and malformed payload problems are returned as errors.
func (w *Webhook) Evaluate(h http.Header, body []byte) (Decision, error) {
	forge, event := DetectForge(h)
	d := Decision{Forge: forge, Event: event}
	if forge == ForgeUnknown {
		return d, ferrors.ValidationError("unrecognized webhook sender").Build()
	}
	if err := w.verify(forge, h, body); err != nil {
		return d, err
	}
	if !isPushEvent(forge, event) {
		d.Reason = "event " + event + " is not a push"
		return d, nil
	}

	push, err := parsePush(forge, body)
	if err != nil {
		return d, err
	}
	d.Push = push
	switch {
	case !strings.HasPrefix(push.Ref, "refs/heads/"):
		d.Reason = "ref " + push.Ref + " is not a branch"
	case push.Branch != w.Branch:
		d.Reason = "branch " + push.Branch + " is not the trigger branch"
	case push.After == zeroCommit:
		d.Reason = "branch deleted"
	default:
		d.Accept = true
	}
	return d, nil
}

func isPushEvent(forge Forge, event string) bool {
	if forge == ForgeGitLab {
		return event == "Push Hook"
	}
	return event == "push"
}

// verify checks the forge's signature scheme. With no secret configured
// every delivery is accepted.
func (w *Webhook) verify(forge Forge, h http.Header, body []byte) error {
	if w.Secret == "" {
		return nil
	}
	var ok bool
	switch forge {
	case ForgeGitHub:
		ok = validHMAC(body, strings.TrimPrefix(h.Get("X-Hub-Signature-256"), "sha256="), w.Secret)
	case ForgeForgejo:
		sig := h.Get("X-Forgejo-Signature")
		if sig == "" {
			sig = h.Get("X-Gitea-Signature")
		}
		if sig == "" {
			sig = strings.TrimPrefix(h.Get("X-Hub-Signature-256"), "sha256=")
		}
		ok = validHMAC(body, sig, w.Secret)
	case ForgeGitLab:
		ok = hmac.Equal([]byte(h.Get("X-Gitlab-Token")), []byte(w.Secret))
	}
	if !ok {
		return ErrInvalidSignature.WithContext("forge", string(forge))
	}
	return nil
}

func validHMAC(body []byte, signature, secret string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	calc := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(strings.ToLower(signature)), []byte(calc))
}

// Sign returns the GitHub-style signature header value for body.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

type pushPayload struct {
	Ref         string `json:"ref"`
	After       string `json:"after"`
	CheckoutSHA string `json:"checkout_sha"`
	Repository  struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
	Project struct {
		PathWithNamespace string `json:"path_with_namespace"`
	} `json:"project"`
	Pusher struct {
		Name     string `json:"name"`
		Username string `json:"username"`
		Login    string `json:"login"`
	} `json:"pusher"`
	UserUsername string `json:"user_username"`
}

func parsePush(forge Forge, body []byte) (*PushEvent, error) {
	var p pushPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryValidation, "malformed push payload").
			WithContext("forge", string(forge)).
			Build()
	}
	if p.Ref == "" {
		return nil, ferrors.ValidationError("push payload has no ref").WithContext("forge", string(forge)).Build()
	}

	ev := &PushEvent{
		Forge:      forge,
		Ref:        p.Ref,
		Branch:     strings.TrimPrefix(p.Ref, "refs/heads/"),
		After:      p.After,
		Repository: p.Repository.FullName,
	}
	switch forge {
	case ForgeGitLab:
		if p.CheckoutSHA != "" {
			ev.After = p.CheckoutSHA
		}
		ev.Repository = p.Project.PathWithNamespace
		ev.Pusher = p.UserUsername
	case ForgeForgejo:
		ev.Pusher = firstNonEmpty(p.Pusher.Username, p.Pusher.Login, p.Pusher.Name)
	default:
		ev.Pusher = firstNonEmpty(p.Pusher.Name, p.Pusher.Login)
	}
	return ev, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
