package workflow

import "strings"

// Event kinds accepted by trigger evaluation.
const (
	EventPush        = "push"
	EventPullRequest = "pull_request"
)

// Event is the trigger input for one pipeline run.
type Event struct {
	Kind    string `json:"event"`
	Branch  string `json:"branch"`
	RepoURL string `json:"repo_url,omitempty"`
	Commit  string `json:"commit,omitempty"`
}

// Matches reports whether the event should start this workflow.
// Push events fire only for branches in the push filter; pull_request
// events fire unfiltered by branch when the workflow declares them.
func (t Trigger) Matches(ev Event) bool {
	switch ev.Kind {
	case EventPush:
		if t.Push == nil {
			return false
		}
		for _, branch := range t.Push.Branches {
			if branch == ev.Branch {
				return true
			}
		}
		return false
	case EventPullRequest:
		return t.PullRequest != nil
	default:
		return false
	}
}

// Normalize trims event fields in place and lowercases the kind.
func (ev *Event) Normalize() {
	ev.Kind = strings.ToLower(strings.TrimSpace(ev.Kind))
	ev.Branch = strings.TrimSpace(ev.Branch)
	ev.RepoURL = strings.TrimSpace(ev.RepoURL)
	ev.Commit = strings.TrimSpace(ev.Commit)
}
