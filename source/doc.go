// Package source implements the FLV media source: a pull-model demultiplexer
// that scans an FLV byte stream to publish a presentation description, then
// produces timestamped compressed samples on demand, one per stream request.
//
// The central type is [Source]. A host opens it with [Source.BeginOpen],
// retrieves the presentation description, selects streams, and drives
// playback with [Source.Start], [Source.Pause], [Source.Stop], and
// [Source.Shutdown]. Samples and state changes arrive as [media.Event]
// values on the source and per-stream event queues.
package source
