package engine

import "errors"

var (
	// ErrEmbedderFailed marks a hard failure from the embedding collaborator.
	ErrEmbedderFailed = errors.New("embedder call failed")
	// ErrStoreFailed marks a hard failure from the chunk store collaborator.
	ErrStoreFailed = errors.New("chunk store query failed")
	// ErrGeneratorFailed marks a hard failure from the generation collaborator.
	ErrGeneratorFailed = errors.New("generator call failed")
)
