// Package ingest is the write side of the bookmark corpus.
//
// An Importer upserts bookmarks, attaches and removes tags, deletes
// bookmarks and fills in missing embeddings. It is the only component that
// mutates the datastore, and after every successful commit it bumps the
// owner's corpus version so the search cache stops serving rankings
// computed before the change.
//
// # Importing
//
//	inputs, err := ingest.LoadFile("export.yaml")
//	stats, err := importer.Import(ctx, userID, inputs, &ingest.Config{Workers: 4})
//
// Inputs are validated and deduplicated by URL, then split into batches.
// Each batch is embedded first (outside any transaction) and written in a
// single transaction; batches run on a bounded errgroup. A batch whose
// embedding call fails is still imported, with its bookmarks left pending
// for a later Reembed. A batch whose transaction fails is rolled back and
// counted in Statistics.Failed.
//
// Only one import runs per process at a time; a second concurrent call
// returns ErrImportInProgress.
//
// # Export files
//
// LoadFile accepts JSON (.json) or YAML (.yaml, .yml), either as a bare
// list of bookmarks or as an object with a "bookmarks" list:
//
//	bookmarks:
//	  - url: https://react.dev/reference/react/hooks
//	    title: Built-in React Hooks
//	    tags: [react, frontend]
//
// Browser and Delicious HTML exports (.html, .htm) are read as Netscape
// bookmark files: HREF, ADD_DATE, the comma separated TAGS attribute and
// the <DD> description map onto URL, CreatedAt, Tags and Summary.
package ingest
