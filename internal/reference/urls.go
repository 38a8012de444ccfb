package reference

import (
	"net/url"
	"strings"

	"github.com/alnah/go-markref/internal/entity"
)

// PathURLBuilder builds links with a forge-style path layout:
//
//	/alice                          user
//	/group/project/-/issues/1       issue
//	/group/project/-/merge_requests/1
//	/group/project/-/snippets/1
//	/group/project/-/labels/bug
//	/group/project/-/milestones/v1.0
//	/group/project/-/commit/<sha>
//	/groups/group/-/epics/1
//
// The reference matchers recognize the same layout when a link points back
// at the instance.
type PathURLBuilder struct {
	BaseURL string
}

var _ entity.URLBuilder = (*PathURLBuilder)(nil)

// URLFor implements entity.URLBuilder.
func (b *PathURLBuilder) URLFor(e entity.Entity, opts entity.URLOptions) string {
	path := entityPath(e.Type(), e.Scope(), e.Key())
	if opts.OnlyPath || b.BaseURL == "" {
		return path
	}
	return strings.TrimRight(b.BaseURL, "/") + path
}

func entityPath(t entity.Type, scope entity.Scope, key string) string {
	switch t {
	case entity.TypeUser:
		return "/" + url.PathEscape(key)
	case entity.TypeEpic:
		return "/groups/" + scope.Path + "/-/epics/" + key
	}
	return "/" + scope.Path + "/-/" + urlSegment(t) + "/" + url.PathEscape(key)
}

func urlSegment(t entity.Type) string {
	switch t {
	case entity.TypeIssue:
		return "issues"
	case entity.TypeMergeRequest:
		return "merge_requests"
	case entity.TypeSnippet:
		return "snippets"
	case entity.TypeLabel:
		return "labels"
	case entity.TypeMilestone:
		return "milestones"
	case entity.TypeCommit:
		return "commit"
	case entity.TypeEpic:
		return "epics"
	}
	return ""
}
