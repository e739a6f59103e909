// Package media defines the contract between the FLV source and the host
// media framework: the byte stream it reads from, the dispatcher it queues
// work on, the event queues it reports through, and the sample, media-type,
// and presentation-description objects it produces.
package media
