package markref_test

import (
	"context"
	"fmt"
	"strings"

	markref "github.com/alnah/go-markref"
)

// issues is a minimal Store and Oracle: every issue of acme/web is public
// except the ones listed in private.
type issues struct {
	titles  map[string]string
	private map[string]bool
}

func (s issues) FindMany(_ context.Context, t markref.ReferenceType, scope markref.Scope, keys []string) (map[string]markref.Entity, error) {
	out := make(map[string]markref.Entity)
	if t != markref.ReferenceIssue || scope.Path != "acme/web" {
		return out, nil
	}
	for _, k := range keys {
		if title, ok := s.titles[k]; ok {
			out[k] = &markref.Record{Kind: t, In: scope, ID: k, Name: title}
		}
	}
	return out, nil
}

func (s issues) Allowed(_ context.Context, _ markref.Actor, _ markref.Ability, e markref.Entity) bool {
	return !s.private[e.Key()]
}

func (s issues) AllowedScope(context.Context, markref.Actor, markref.Ability, markref.Scope) bool {
	return true
}

func newExampleRenderer() (*markref.Renderer, error) {
	store := issues{
		titles:  map[string]string{"1": "Crash", "2": "Leak"},
		private: map[string]bool{"2": true},
	}
	return markref.NewRenderer(
		markref.WithBaseURL("https://git.example.com"),
		markref.WithStore(store),
		markref.WithOracle(store),
	)
}

// Example renders a comment and resolves its references for one viewer.
func Example() {
	r, err := newExampleRenderer()
	if err != nil {
		fmt.Println("error:", err)
		return
	}

	out, err := r.RenderAndPostprocess(context.Background(), "Fixes #1, related to #2 and #3", markref.RenderContext{
		Project:     "acme/web",
		CurrentUser: markref.User{Name: "bob"},
	})
	if err != nil {
		fmt.Println("error:", err)
		return
	}

	fmt.Println("links:", strings.Count(out.HTML, "<a "))
	fmt.Println(strings.Contains(out.HTML, `href="https://git.example.com/acme/web/-/issues/1"`))
	// Output:
	// links: 1
	// true
}

// Example_cachedRender renders once and postprocesses the cached HTML.
func Example_cachedRender() {
	r, err := newExampleRenderer()
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	ctx := context.Background()
	rc := markref.RenderContext{Project: "acme/web"}

	rendered, err := r.Render(ctx, "See #1", rc)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	// rendered.HTML can be stored and reused for every viewer.

	refs, err := r.References(ctx, rendered.HTML, rc)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	for _, ref := range refs {
		fmt.Printf("%s %s %q\n", ref.Type, ref.Text, ref.Title)
	}
	// Output: issue #1 "Crash"
}

// Example_escaping shows that a backslash keeps a reference literal.
func Example_escaping() {
	r, err := newExampleRenderer()
	if err != nil {
		fmt.Println("error:", err)
		return
	}

	out, err := r.RenderAndPostprocess(context.Background(), `\#1 is not a link`, markref.RenderContext{Project: "acme/web"})
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println(strings.Contains(out.HTML, "<a "))
	// Output: false
}

// Example_allowList customizes the sanitization table.
func Example_allowList() {
	list := markref.BaseAllowList().Customize(
		markref.AllowStyles("color"),
		markref.AllowAttributes("span", "title"),
	)
	r, err := markref.NewRenderer(markref.WithAllowList(list))
	if err != nil {
		fmt.Println("error:", err)
		return
	}

	out, err := r.Render(context.Background(), `<span title="hi" onclick="x()">hello</span>`, markref.RenderContext{Project: "acme/web"})
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println(strings.Contains(out.HTML, `title="hi"`), strings.Contains(out.HTML, "onclick"))
	// Output: true false
}
