// Package imaging prepares uploaded photos for detection and storage.
//
// Uploads are decoded (JPEG, PNG or WebP), reduced to the configured maximum
// width, and re-encoded as JPEG so the vision request and the stored
// thumbnail stay small.
package imaging
