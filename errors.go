package defesajusta

import "errors"

var (
	// ErrDocumentNotFound is returned when a document ID does not exist.
	ErrDocumentNotFound = errors.New("defesajusta: document not found")

	// ErrContributionNotFound is returned when a contribution ID does not exist.
	ErrContributionNotFound = errors.New("defesajusta: contribution not found")

	// ErrIndexUnavailable is returned when the persisted vector index is
	// missing or corrupt while the corpus expects one. Fatal at startup;
	// the engine never silently starts with an empty index.
	ErrIndexUnavailable = errors.New("defesajusta: vector index unavailable")

	// ErrEmbedderUnavailable is returned when embedding fails after the
	// single retry. Read-path callers degrade instead of failing.
	ErrEmbedderUnavailable = errors.New("defesajusta: embedder unavailable")

	// ErrEngineClosed is returned when operating on a closed engine.
	ErrEngineClosed = errors.New("defesajusta: engine is closed")

	// ErrEmptyDocument is returned when an ingested document has no content.
	ErrEmptyDocument = errors.New("defesajusta: document has no content")
)
