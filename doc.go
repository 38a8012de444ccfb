// Package markref renders user-written Markdown into sanitized HTML and
// turns short references such as #123, !45, @alice or group/project~bug
// into links the current viewer is allowed to follow.
//
// # Quick Start
//
// Create a renderer backed by your entity store and permission oracle:
//
//	r, err := markref.NewRenderer(
//	    markref.WithBaseURL("https://git.example.com"),
//	    markref.WithStore(store),
//	    markref.WithOracle(oracle),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	rc := markref.RenderContext{
//	    Project:     "acme/web",
//	    CurrentUser: markref.User{Name: "alice"},
//	}
//	out, err := r.RenderAndPostprocess(ctx, "Fixed in !45, see #7", rc)
//
// # Two Passes
//
// Render is viewer-independent. It runs these steps:
//
//  1. Line normalization and the escape pre-pass (\#123 stays literal)
//  2. Markdown conversion via goldmark
//  3. The escape post-pass and ==highlight== marks
//  4. Sanitization against an allow list
//  5. Reference matching, which leaves provisional markers
//  6. Optional heading anchors and table of contents
//
// Its output can be cached. Postprocess then runs per viewer: it gathers
// the markers, loads their entities with one batched call per type and
// scope, redacts everything the viewer may not see and links the rest.
// Redaction is critical: if it cannot finish in time the call fails
// rather than emit unchecked references.
//
// # Configuration
//
// Use functional options to customize the renderer:
//
//	r, err := markref.NewRenderer(
//	    markref.WithTimeouts(markref.Timeouts{Sanitize: 2 * time.Second}),
//	    markref.WithAllowList(markref.BaseAllowList().Customize(markref.AllowElements("mark"))),
//	    markref.WithTOC(&markref.TOC{MaxDepth: 2}),
//	    markref.WithLogger(logger),
//	)
//
// # Parallel Processing
//
// For batch rendering, use RendererPool to bound concurrency:
//
//	pool := markref.NewRendererPool(markref.ResolvePoolSize(0), opts...)
//	defer pool.Close()
//
//	r, err := pool.Acquire(ctx)
//	if err != nil {
//	    return err
//	}
//	defer pool.Release(r)
package markref
