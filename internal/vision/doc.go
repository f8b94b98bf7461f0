// Package vision asks a hosted multimodal chat-completions model to list the
// objects visible in a photo.
//
// The client sends one user message carrying the instruction text and the
// photo as an inline data URL, retries transient failures with exponential
// backoff, and turns the free-text answer into a clean list of object names.
package vision
