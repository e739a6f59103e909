// Package host provides ready-made implementations of the media framework
// interfaces for embedding the source outside a full pipeline: file- and
// memory-backed byte streams and a pooled work-item dispatcher.
package host
