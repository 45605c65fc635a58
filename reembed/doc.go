// Package reembed recomputes the vectors of stored chunks, for example after
// switching to a new embedding model.
//
// Chunks are read in batches, their combined text is embedded again with
// retries and exponential backoff, and the normalized vectors are written
// back in place. Chunk payloads are not modified.
package reembed
