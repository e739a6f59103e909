// Package flv implements wire-level parsing of the FLV container: the file
// header, the tag loop, per-tag audio/video headers, AMF0 onMetaData script
// payloads, the AVCDecoderConfigurationRecord, and length-prefixed NAL unit
// payloads. The central type is [Parser], which reads asynchronously from a
// [media.ByteStream] and completes each primitive through a callback.
package flv
