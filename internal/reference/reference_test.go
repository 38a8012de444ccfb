package reference

// Notes:
// - fakeStore and fakeOracle are hand-written so tests can count lookups
//   and script denials; internal/store has its own tests.
// - Markers are compared through OccurrenceOf rather than rendered HTML,
//   except where the exact output is the point (degraded text must leave
//   no trace of the marker).

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"golang.org/x/net/html"

	"github.com/alnah/go-markref/internal/dom"
	"github.com/alnah/go-markref/internal/entity"
	"github.com/alnah/go-markref/internal/filter"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeStore struct {
	mu       sync.Mutex
	entities map[string]entity.Entity
	fail     map[entity.Type]error
	calls    []string
}

func newFakeStore(records ...*entity.Record) *fakeStore {
	s := &fakeStore{entities: make(map[string]entity.Entity), fail: make(map[entity.Type]error)}
	for _, r := range records {
		s.entities[entityID(r.Kind, r.In, r.ID)] = r
	}
	return s
}

func entityID(t entity.Type, s entity.Scope, key string) string {
	return fmt.Sprintf("%s %s %s", t, s, key)
}

func (s *fakeStore) FindMany(_ context.Context, t entity.Type, scope entity.Scope, keys []string) (map[string]entity.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, fmt.Sprintf("%s %s %s", t, scope, strings.Join(keys, ",")))
	if err := s.fail[t]; err != nil {
		return nil, err
	}
	out := make(map[string]entity.Entity)
	for _, k := range keys {
		if e, ok := s.entities[entityID(t, scope, k)]; ok {
			out[k] = e
		}
	}
	return out, nil
}

func (s *fakeStore) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// fakeOracle allows everything except what is listed. Entity denials are
// keyed by entityID, scope denials by "username|scope".
type fakeOracle struct {
	mu           sync.Mutex
	deniedEntity map[string]bool
	deniedScope  map[string]bool
	scopeChecks  int
}

func newFakeOracle() *fakeOracle {
	return &fakeOracle{deniedEntity: make(map[string]bool), deniedScope: make(map[string]bool)}
}

func (o *fakeOracle) Allowed(_ context.Context, _ entity.Actor, ability entity.Ability, e entity.Entity) bool {
	if ability != entity.ReadAbility(e.Type()) {
		return false
	}
	return !o.deniedEntity[entityID(e.Type(), e.Scope(), e.Key())]
}

func (o *fakeOracle) AllowedScope(_ context.Context, actor entity.Actor, _ entity.Ability, s entity.Scope) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.scopeChecks++
	name := ""
	if actor != nil {
		name = actor.Username()
	}
	return !o.deniedScope[name+"|"+s.String()]
}

var (
	web    = entity.ProjectScope("acme/web")
	api    = entity.ProjectScope("acme/api")
	secret = entity.ProjectScope("acme/secret")
)

func fixtureStore() *fakeStore {
	return newFakeStore(
		&entity.Record{Kind: entity.TypeUser, In: entity.GlobalScope(), ID: "alice", Name: "Alice"},
		&entity.Record{Kind: entity.TypeIssue, In: web, ID: "1", Name: "Crash"},
		&entity.Record{Kind: entity.TypeIssue, In: web, ID: "2", Name: "Leak"},
		&entity.Record{Kind: entity.TypeIssue, In: web, ID: "3", Name: "Typo"},
		&entity.Record{Kind: entity.TypeIssue, In: web, ID: "7", Name: "Private"},
		&entity.Record{Kind: entity.TypeIssue, In: api, ID: "2", Name: "API bug"},
		&entity.Record{Kind: entity.TypeIssue, In: secret, ID: "1", Name: "Hidden"},
		&entity.Record{Kind: entity.TypeIssue, In: web, ID: "123", Name: "Linked"},
		&entity.Record{Kind: entity.TypeMergeRequest, In: web, ID: "45", Name: "Fix"},
		&entity.Record{Kind: entity.TypeLabel, In: web, ID: "needs review", Name: "needs review"},
		&entity.Record{Kind: entity.TypeCommit, In: web, ID: "deadbeefcafe", Name: "Initial commit"},
		&entity.Record{Kind: entity.TypeEpic, In: entity.GroupScope("acme"), ID: "3", Name: "Roadmap"},
	)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func parse(t *testing.T, s string) *html.Node {
	t.Helper()
	root, err := dom.Parse(s)
	if err != nil {
		t.Fatalf("dom.Parse(%q) error = %v", s, err)
	}
	return root
}

func render(t *testing.T, root *html.Node) string {
	t.Helper()
	out, err := dom.Render(root)
	if err != nil {
		t.Fatalf("dom.Render() error = %v", err)
	}
	return out
}

func refsOf(root *html.Node) []Reference {
	var out []Reference
	for _, n := range Markers(root) {
		if occ, ok := OccurrenceOf(n); ok {
			out = append(out, occ.Ref)
		}
	}
	return out
}

func match(t *testing.T, input string, fc *filter.Context, types ...entity.Type) *html.Node {
	t.Helper()
	f := &MatchFilter{Registry: NewRegistry(testBaseURL), Types: types}
	doc, err := f.Call(context.Background(), filter.NewTree(parse(t, input)), fc, filter.NewResult())
	if err != nil {
		t.Fatalf("MatchFilter.Call() error = %v", err)
	}
	return doc.Root()
}

type postprocess struct {
	store  *fakeStore
	oracle *fakeOracle
	logger logrus.FieldLogger
	lazy   bool
}

// run renders input through matching and the postprocess filters and
// returns the HTML and the Result.
func (p postprocess) run(t *testing.T, input string, fc *filter.Context) (string, *filter.Result) {
	t.Helper()
	var oracle entity.Oracle
	if p.oracle != nil {
		oracle = p.oracle
	}
	pipe := filter.NewPipeline(nil,
		&MatchFilter{Registry: NewRegistry(testBaseURL)},
		&Gatherer{Store: p.store, Oracle: oracle, Logger: p.logger, Lazy: p.lazy},
		&Redactor{Oracle: oracle},
		&Linker{URLs: &PathURLBuilder{BaseURL: testBaseURL}},
	)
	res := filter.NewResult()
	doc, err := pipe.Run(context.Background(), filter.NewTree(parse(t, input)), fc, res)
	if err != nil {
		t.Fatalf("pipeline error = %v", err)
	}
	return render(t, doc.Root()), res
}

func projectContext(opts ...filter.Option) *filter.Context {
	return filter.NewContext(append([]filter.Option{filter.WithProject("acme/web")}, opts...)...)
}

// ---------------------------------------------------------------------------
// TestMatchFilter
// ---------------------------------------------------------------------------

func TestMatchFilter(t *testing.T) {
	t.Parallel()

	acme := entity.GroupScope("acme")

	tests := []struct {
		name  string
		input string
		opts  []filter.Option
		types []entity.Type
		want  []Reference
	}{
		{
			name:  "short syntax in text",
			input: "<p>See #1 and acme/api#2.</p>",
			want: []Reference{
				{Type: entity.TypeIssue, Scope: web, Key: "1", Raw: "#1"},
				{Type: entity.TypeIssue, Scope: api, Key: "2", Raw: "acme/api#2", CrossScope: true},
			},
		},
		{
			name:  "qualified with own project is local",
			input: "<p>acme/web#1</p>",
			want:  []Reference{{Type: entity.TypeIssue, Scope: web, Key: "1", Raw: "acme/web#1"}},
		},
		{
			name:  "document order across types",
			input: "<p>#1 by @alice</p>",
			want: []Reference{
				{Type: entity.TypeIssue, Scope: web, Key: "1", Raw: "#1"},
				{Type: entity.TypeUser, Scope: entity.GlobalScope(), Key: "alice", Raw: "@alice"},
			},
		},
		{
			name:  "verbatim elements are skipped",
			input: "<p><code>#1</code> <pre>#2</pre> <kbd>#3</kbd> <a href=\"/x\">#4</a></p>",
		},
		{
			name:  "escaped sigil is skipped",
			input: "<p>See !45 and <span data-escaped-char=\"\">!</span>45.</p>",
			want:  []Reference{{Type: entity.TypeMergeRequest, Scope: web, Key: "45", Raw: "!45"}},
		},
		{
			name:  "short syntax href",
			input: `<p><a href="#123">Issue</a> <a href="#5">#5</a></p>`,
			want: []Reference{
				{Type: entity.TypeIssue, Scope: web, Key: "123", Raw: "Issue"},
				{Type: entity.TypeIssue, Scope: web, Key: "5", Raw: "#5"},
			},
		},
		{
			name:  "bare instance URL",
			input: `<p><a href="` + testBaseURL + `/acme/api/-/issues/9">` + testBaseURL + `/acme/api/-/issues/9</a></p>`,
			want: []Reference{
				{Type: entity.TypeIssue, Scope: api, Key: "9", Raw: testBaseURL + "/acme/api/-/issues/9", CrossScope: true},
			},
		},
		{
			name:  "labeled instance URL",
			input: `<p><a href="` + testBaseURL + `/acme/web/-/merge_requests/4">the fix</a></p>`,
			want:  []Reference{{Type: entity.TypeMergeRequest, Scope: web, Key: "4", Raw: "the fix"}},
		},
		{
			name:  "foreign URL left alone",
			input: `<p><a href="https://other.example.com/acme/web/-/issues/1">x</a></p>`,
		},
		{
			name:  "image links left alone",
			input: `<p><a href="#1"><img src="/a.png" alt="#1"></a></p>`,
		},
		{
			name:  "blockquotes ignored on request",
			input: `<blockquote><p>#1 <a href="#2">two</a></p></blockquote><p>#3</p>`,
			opts:  []filter.Option{filter.WithIgnoreBlockquotes(true)},
			want:  []Reference{{Type: entity.TypeIssue, Scope: web, Key: "3", Raw: "#3"}},
		},
		{
			name:  "blockquotes matched by default",
			input: `<blockquote><p>#1</p></blockquote>`,
			want:  []Reference{{Type: entity.TypeIssue, Scope: web, Key: "1", Raw: "#1"}},
		},
		{
			name:  "epics use the project namespace",
			input: "<p>&amp;3 and other&amp;4</p>",
			want: []Reference{
				{Type: entity.TypeEpic, Scope: acme, Key: "3", Raw: "&3"},
				{Type: entity.TypeEpic, Scope: entity.GroupScope("other"), Key: "4", Raw: "other&4", CrossScope: true},
			},
		},
		{
			name:  "quoted label and commit",
			input: `<p>~"needs review" in deadbeefcafe</p>`,
			want: []Reference{
				{Type: entity.TypeLabel, Scope: web, Key: "needs review", Raw: `~"needs review"`},
				{Type: entity.TypeCommit, Scope: web, Key: "deadbeefcafe", Raw: "deadbeefcafe"},
			},
		},
		{
			name:  "types restrict matching",
			input: "<p>#1 @alice</p>",
			types: []entity.Type{entity.TypeUser},
			want:  []Reference{{Type: entity.TypeUser, Scope: entity.GlobalScope(), Key: "alice", Raw: "@alice"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			root := match(t, tt.input, projectContext(tt.opts...), tt.types...)
			if diff := cmp.Diff(tt.want, refsOf(root), cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("references mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMatchFilter_MarkerShape(t *testing.T) {
	t.Parallel()

	got := render(t, match(t, "<p>See #1.</p>", projectContext()))
	want := `<p>See <a class="gfm gfm-issue" data-reference-type="issue" data-scope="project:acme/web" ` +
		`data-key="1" data-original="#1" data-cross-scope="false" data-reference-state="provisional">#1</a>.</p>`
	if got != want {
		t.Errorf("marker HTML:\ngot  %s\nwant %s", got, want)
	}
}

func TestMatchFilter_LinkLabel(t *testing.T) {
	t.Parallel()

	root := match(t, `<p><a href="#123">Issue</a></p>`, projectContext())
	markers := Markers(root)
	if len(markers) != 1 {
		t.Fatalf("markers = %d, want 1", len(markers))
	}
	occ, _ := OccurrenceOf(markers[0])
	if occ.LinkLabel != "Issue" {
		t.Errorf("LinkLabel = %q, want %q", occ.LinkLabel, "Issue")
	}
}

func TestMatchFilter_RequiresProject(t *testing.T) {
	t.Parallel()

	pipe := filter.NewPipeline(nil, &MatchFilter{Registry: NewRegistry("")})
	_, err := pipe.Run(context.Background(), filter.NewTree(parse(t, "<p>#1</p>")), filter.NewContext(), nil)
	if !errors.Is(err, filter.ErrMissingContext) {
		t.Errorf("error = %v, want ErrMissingContext", err)
	}
}

func TestMatchFilter_NoMatchLeavesTreeUntouched(t *testing.T) {
	t.Parallel()

	input := "<p>nothing <em>to</em> see</p>"
	if got := render(t, match(t, input, projectContext())); got != input {
		t.Errorf("output = %q, want %q", got, input)
	}
}

// ---------------------------------------------------------------------------
// TestGather
// ---------------------------------------------------------------------------

func TestGather_OneCallPerGroup(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	b.WriteString("<p>")
	for i := range 50 {
		fmt.Fprintf(&b, "#%d ", i%3+1)
	}
	b.WriteString("</p>")

	store := fixtureStore()
	fc := projectContext()
	root := match(t, b.String(), fc)

	r, err := (&Gatherer{Store: store, Oracle: newFakeOracle()}).Gather(context.Background(), fc, root)
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	if got := len(r.Occurrences()); got != 50 {
		t.Errorf("Occurrences() = %d, want 50", got)
	}
	if r.Groups() != 1 || r.Calls() != 1 {
		t.Errorf("Groups() = %d, Calls() = %d, want 1 and 1", r.Groups(), r.Calls())
	}
	if diff := cmp.Diff([]string{"issue project:acme/web 1,2,3"}, store.Calls()); diff != "" {
		t.Errorf("store calls mismatch (-want +got):\n%s", diff)
	}
}

func TestGather_GroupsByTypeAndScope(t *testing.T) {
	t.Parallel()

	store := fixtureStore()
	fc := projectContext()
	root := match(t, "<p>#1 acme/api#2 !45 #2 @alice</p>", fc)

	r, err := (&Gatherer{Store: store}).Gather(context.Background(), fc, root)
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	if r.Groups() != 4 || r.Calls() != 4 {
		t.Errorf("Groups() = %d, Calls() = %d, want 4 and 4", r.Groups(), r.Calls())
	}
	byType := r.ByType()
	if got := len(byType[entity.TypeIssue]); got != 3 {
		t.Errorf("issue occurrences = %d, want 3", got)
	}
	if got := len(byType[entity.TypeUser]); got != 1 {
		t.Errorf("user occurrences = %d, want 1", got)
	}
}

func TestGather_Lazy(t *testing.T) {
	t.Parallel()

	store := fixtureStore()
	fc := projectContext()
	root := match(t, "<p>#1 !45 @alice</p>", fc)

	r, err := (&Gatherer{Store: store, Lazy: true}).Gather(context.Background(), fc, root)
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	if r.Calls() != 0 {
		t.Fatalf("lazy Gather made %d calls, want 0", r.Calls())
	}

	ref := Reference{Type: entity.TypeMergeRequest, Scope: web, Key: "45"}
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := r.Lookup(context.Background(), ref); !ok {
				t.Error("Lookup(!45) = not found")
			}
		}()
	}
	wg.Wait()

	if diff := cmp.Diff([]string{"merge_request project:acme/web 45"}, store.Calls()); diff != "" {
		t.Errorf("store calls mismatch (-want +got):\n%s", diff)
	}
}

func TestGather_ReferenceFilter(t *testing.T) {
	t.Parallel()

	store := fixtureStore()
	p := postprocess{store: store, oracle: newFakeOracle()}
	out, _ := p.run(t, "<p>#1 by @alice</p>", projectContext(filter.WithReferenceFilter(entity.TypeIssue)))

	if diff := cmp.Diff([]string{"issue project:acme/web 1"}, store.Calls()); diff != "" {
		t.Errorf("store calls mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(out, " by @alice</p>") || strings.Contains(out, `data-reference-type="user"`) {
		t.Errorf("filtered-out user should degrade to text: %s", out)
	}
	if !strings.Contains(out, `href="`+testBaseURL+`/acme/web/-/issues/1"`) {
		t.Errorf("issue should be linked: %s", out)
	}
}

func TestGather_AuthorCannotReadCrossScope(t *testing.T) {
	t.Parallel()

	store := fixtureStore()
	oracle := newFakeOracle()
	oracle.deniedScope["mallory|"+secret.String()] = true

	p := postprocess{store: store, oracle: oracle}
	fc := projectContext(
		filter.WithAuthor(entity.User{Name: "mallory"}),
		filter.WithCurrentUser(entity.User{Name: "admin"}),
	)
	out, _ := p.run(t, "<p>acme/secret#1 and acme/secret#1 and #1</p>", fc)

	if want := "<p>acme/secret#1 and acme/secret#1 and "; !strings.HasPrefix(out, want) {
		t.Errorf("output = %s, want prefix %s", out, want)
	}
	for _, c := range store.Calls() {
		if strings.Contains(c, "acme/secret") {
			t.Errorf("store was asked about a scope the author cannot read: %s", c)
		}
	}
}

func TestGather_ScopeChecksAreMemoized(t *testing.T) {
	t.Parallel()

	oracle := newFakeOracle()
	fc := projectContext(filter.WithAuthor(entity.User{Name: "alice"}), filter.WithCurrentUser(entity.User{Name: "bob"}))
	p := postprocess{store: fixtureStore(), oracle: oracle}
	p.run(t, "<p>acme/api#2 acme/api#2 acme/api#2</p>", fc)

	// One check for the author, one for the viewer.
	if oracle.scopeChecks != 2 {
		t.Errorf("scope checks = %d, want 2", oracle.scopeChecks)
	}
}

func TestGather_FailedBatchDegrades(t *testing.T) {
	t.Parallel()

	store := fixtureStore()
	store.fail[entity.TypeMergeRequest] = errors.New("connection reset")
	logger, hook := logtest.NewNullLogger()

	p := postprocess{store: store, oracle: newFakeOracle(), logger: logger}
	out, _ := p.run(t, "<p>!45 and #1</p>", projectContext())

	if !strings.HasPrefix(out, "<p>!45 and <a ") {
		t.Errorf("failed group should degrade, other groups link: %s", out)
	}
	entry := hook.LastEntry()
	if entry == nil || entry.Level != logrus.WarnLevel {
		t.Fatalf("expected a warning, got %+v", entry)
	}
	if entry.Data["type"] != "merge_request" || entry.Data["scope"] != web.String() {
		t.Errorf("warning fields = %v", entry.Data)
	}
}

func TestGather_MissingStore(t *testing.T) {
	t.Parallel()

	_, err := (&Gatherer{}).Gather(context.Background(), projectContext())
	if !errors.Is(err, ErrMissingCollaborator) {
		t.Errorf("error = %v, want ErrMissingCollaborator", err)
	}
}

// ---------------------------------------------------------------------------
// TestRedact
// ---------------------------------------------------------------------------

func TestRedact_DeniedAndMissingLookAlike(t *testing.T) {
	t.Parallel()

	oracle := newFakeOracle()
	oracle.deniedEntity[entityID(entity.TypeIssue, web, "7")] = true
	p := postprocess{store: fixtureStore(), oracle: oracle}

	denied, _ := p.run(t, "<p>See #7.</p>", projectContext())
	missing, _ := p.run(t, "<p>See #8.</p>", projectContext())

	if denied != "<p>See #7.</p>" {
		t.Errorf("denied output = %q", denied)
	}
	if missing != "<p>See #8.</p>" {
		t.Errorf("missing output = %q", missing)
	}
}

func TestRedact_OnlyVisibleMarkersSurvive(t *testing.T) {
	t.Parallel()

	oracle := newFakeOracle()
	oracle.deniedEntity[entityID(entity.TypeIssue, web, "2")] = true
	oracle.deniedScope["bob|"+api.String()] = true
	p := postprocess{store: fixtureStore(), oracle: oracle}

	fc := projectContext(filter.WithCurrentUser(entity.User{Name: "bob"}))
	out, _ := p.run(t, "<p>#1 #2 acme/api#2 !45 #99</p>", fc)
	root := parse(t, out)

	var linked []string
	for _, n := range Markers(root) {
		state, _ := dom.Attr(n, AttrState)
		if state != StateLinked {
			t.Errorf("marker left in state %q: %s", state, dom.TextContent(n))
		}
		linked = append(linked, dom.TextContent(n))
	}
	if diff := cmp.Diff([]string{"#1", "!45"}, linked); diff != "" {
		t.Errorf("linked references mismatch (-want +got):\n%s", diff)
	}
	if got := dom.TextContent(root); got != "#1 #2 acme/api#2 !45 #99" {
		t.Errorf("text content = %q", got)
	}
}

func TestRedact_Idempotent(t *testing.T) {
	t.Parallel()

	oracle := newFakeOracle()
	oracle.deniedEntity[entityID(entity.TypeIssue, web, "2")] = true
	store := fixtureStore()
	fc := projectContext()
	root := match(t, "<p>#1 #2 #404</p>", fc)

	resolution, err := (&Gatherer{Store: store}).Gather(context.Background(), fc, root)
	if err != nil {
		t.Fatal(err)
	}
	r := &Redactor{Oracle: oracle}

	n, err := r.Redact(context.Background(), fc, resolution, root)
	if err != nil || n != 2 {
		t.Fatalf("first Redact() = %d, %v, want 2, nil", n, err)
	}
	first := render(t, root)

	n, err = r.Redact(context.Background(), fc, resolution, root)
	if err != nil || n != 0 {
		t.Fatalf("second Redact() = %d, %v, want 0, nil", n, err)
	}
	if second := render(t, root); second != first {
		t.Errorf("second pass changed the document:\nfirst  %s\nsecond %s", first, second)
	}
}

func TestRedact_MalformedMarkersDegrade(t *testing.T) {
	t.Parallel()

	root := parse(t, `<p><a data-reference-type="widget" data-original="w">w</a> `+
		`<a data-reference-type="issue" data-scope="nowhere" data-key="1">#1</a></p>`)
	resolution, err := (&Gatherer{Store: fixtureStore()}).Gather(context.Background(), projectContext(), root)
	if err != nil {
		t.Fatal(err)
	}

	n, err := (&Redactor{Oracle: newFakeOracle()}).Redact(context.Background(), projectContext(), resolution, root)
	if err != nil || n != 2 {
		t.Fatalf("Redact() = %d, %v, want 2, nil", n, err)
	}
	if got := render(t, root); got != "<p>w #1</p>" {
		t.Errorf("output = %q", got)
	}
}

func TestRedact_SkipRedaction(t *testing.T) {
	t.Parallel()

	p := postprocess{store: fixtureStore()}
	out, _ := p.run(t, "<p>#7 #404</p>", projectContext(filter.WithSkipRedaction(true)))

	if !strings.Contains(out, `href="`+testBaseURL+`/acme/web/-/issues/7"`) {
		t.Errorf("#7 should be linked without redaction: %s", out)
	}
	if !strings.HasSuffix(out, " #404</p>") {
		t.Errorf("unresolved references still degrade: %s", out)
	}
}

func TestRedact_Errors(t *testing.T) {
	t.Parallel()

	t.Run("missing oracle", func(t *testing.T) {
		t.Parallel()

		_, err := (&Redactor{}).Redact(context.Background(), projectContext(), &Resolution{}, parse(t, "<p></p>"))
		if !errors.Is(err, ErrMissingCollaborator) {
			t.Errorf("error = %v, want ErrMissingCollaborator", err)
		}
	})

	t.Run("missing resolution", func(t *testing.T) {
		t.Parallel()

		r := &Redactor{Oracle: newFakeOracle()}
		_, err := r.Call(context.Background(), filter.NewTree(parse(t, "<p></p>")), projectContext(), filter.NewResult())
		if !errors.Is(err, ErrMissingResolution) {
			t.Errorf("error = %v, want ErrMissingResolution", err)
		}
	})
}

// ---------------------------------------------------------------------------
// TestLinker
// ---------------------------------------------------------------------------

func TestLinker(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		input     string
		opts      []filter.Option
		wantHref  string
		wantTitle string
		wantText  string
	}{
		{
			name:      "local issue",
			input:     "<p>#1</p>",
			wantHref:  testBaseURL + "/acme/web/-/issues/1",
			wantTitle: "Crash",
			wantText:  "#1",
		},
		{
			name:     "only path",
			input:    "<p>#1</p>",
			opts:     []filter.Option{filter.WithOnlyPath(true)},
			wantHref: "/acme/web/-/issues/1",
			wantText: "#1",
		},
		{
			name:     "cross-scope keeps its qualifier",
			input:    "<p>acme/api#2</p>",
			wantHref: testBaseURL + "/acme/api/-/issues/2",
			wantText: "acme/api#2",
		},
		{
			name:     "short href keeps the author's label",
			input:    `<p><a href="#123">Issue</a></p>`,
			wantHref: testBaseURL + "/acme/web/-/issues/123",
			wantText: "Issue",
		},
		{
			name:     "bare URL is shortened",
			input:    `<p><a href="` + testBaseURL + `/acme/web/-/issues/1">` + testBaseURL + `/acme/web/-/issues/1</a></p>`,
			wantHref: testBaseURL + "/acme/web/-/issues/1",
			wantText: "#1",
		},
		{
			name:     "commit is abbreviated",
			input:    "<p>deadbeefcafe</p>",
			wantHref: testBaseURL + "/acme/web/-/commit/deadbeefcafe",
			wantText: "deadbeef",
		},
		{
			name:     "quoted label",
			input:    `<p>~"needs review"</p>`,
			wantHref: testBaseURL + "/acme/web/-/labels/needs%20review",
			wantText: `~"needs review"`,
		},
		{
			name:     "epic",
			input:    "<p>&amp;3</p>",
			wantHref: testBaseURL + "/groups/acme/-/epics/3",
			wantText: "&3",
		},
		{
			name:     "user",
			input:    "<p>@alice</p>",
			wantHref: testBaseURL + "/alice",
			wantText: "@alice",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := postprocess{store: fixtureStore(), oracle: newFakeOracle()}
			out, _ := p.run(t, tt.input, projectContext(tt.opts...))
			markers := Markers(parse(t, out))
			if len(markers) != 1 {
				t.Fatalf("markers = %d, want 1: %s", len(markers), out)
			}
			a := markers[0]
			if href, _ := dom.Attr(a, "href"); href != tt.wantHref {
				t.Errorf("href = %q, want %q", href, tt.wantHref)
			}
			if tt.wantTitle != "" {
				if title, _ := dom.Attr(a, "title"); title != tt.wantTitle {
					t.Errorf("title = %q, want %q", title, tt.wantTitle)
				}
			}
			if got := dom.TextContent(a); got != tt.wantText {
				t.Errorf("text = %q, want %q", got, tt.wantText)
			}
		})
	}
}

func TestLinker_SkipsProvisionalMarkers(t *testing.T) {
	t.Parallel()

	fc := projectContext()
	root := match(t, "<p>#1</p>", fc)
	resolution, err := (&Gatherer{Store: fixtureStore()}).Gather(context.Background(), fc, root)
	if err != nil {
		t.Fatal(err)
	}
	res := filter.NewResult()
	res.Set(filter.ResultReferences, resolution)

	l := &Linker{URLs: &PathURLBuilder{BaseURL: testBaseURL}}
	if _, err := l.Call(context.Background(), filter.NewTree(root), fc, res); err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if dom.HasAttr(Markers(root)[0], "href") {
		t.Error("a provisional marker must not be linked")
	}
}

func TestLinker_Errors(t *testing.T) {
	t.Parallel()

	doc := filter.NewTree(parse(t, "<p></p>"))
	if _, err := (&Linker{}).Call(context.Background(), doc, projectContext(), filter.NewResult()); !errors.Is(err, ErrMissingCollaborator) {
		t.Errorf("no URL builder: error = %v", err)
	}
	l := &Linker{URLs: &PathURLBuilder{}}
	if _, err := l.Call(context.Background(), doc, projectContext(), filter.NewResult()); !errors.Is(err, ErrMissingResolution) {
		t.Errorf("no resolution: error = %v", err)
	}
}

func TestVisible(t *testing.T) {
	t.Parallel()

	oracle := newFakeOracle()
	oracle.deniedEntity[entityID(entity.TypeIssue, web, "2")] = true
	p := postprocess{store: fixtureStore(), oracle: oracle}
	out, res := p.run(t, "<p>#2 !45 #1</p>", projectContext())

	v, _ := res.Get(filter.ResultReferences)
	got := Visible(context.Background(), v.(*Resolution), parse(t, out))
	var titles []string
	for _, r := range got {
		titles = append(titles, r.Entity.Title())
	}
	if diff := cmp.Diff([]string{"Fix", "Crash"}, titles); diff != "" {
		t.Errorf("Visible() mismatch (-want +got):\n%s", diff)
	}
}
