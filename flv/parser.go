package flv

import (
	"fmt"

	"github.com/zioncity/flvsource/media"
)

// Parser reads FLV structures asynchronously from a byte stream. Each
// primitive issues one read and completes through its callback on the
// host's dispatcher. The parser keeps no position of its own: tag offsets
// are read back from the stream, so it restarts cleanly after SeekForward
// or a repositioned stream.
type Parser struct {
	bs media.ByteStream
}

// NewParser creates a parser over bs.
func NewParser(bs media.ByteStream) *Parser {
	return &Parser{bs: bs}
}

// ReadFileHeader consumes and validates the 9-byte file header. When the
// header declares a data offset past itself, the stream is positioned there
// so the tag loop starts at the first previous-tag-size field.
func (p *Parser) ReadFileHeader(cb func(FileHeader, error)) {
	p.bs.ReadAsync(FileHeaderLength, func(data []byte, err error) {
		if err != nil {
			cb(FileHeader{}, err)
			return
		}
		h, err := parseFileHeader(data)
		if err != nil {
			cb(FileHeader{}, err)
			return
		}
		if h.DataOffset > FileHeaderLength {
			if err := p.bs.SetPosition(int64(h.DataOffset)); err != nil {
				cb(FileHeader{}, err)
				return
			}
		}
		cb(h, nil)
	})
}

func parseFileHeader(data []byte) (FileHeader, error) {
	if len(data) < FileHeaderLength {
		return FileHeader{}, fmt.Errorf("file header: %d bytes: %w", len(data), media.ErrInvalidFormat)
	}
	if data[0] != 'F' || data[1] != 'L' || data[2] != 'V' {
		return FileHeader{}, fmt.Errorf("file header: bad signature %q: %w", data[:3], media.ErrInvalidFormat)
	}
	h := FileHeader{
		Version:    data[3],
		HasAudio:   data[4]&0x01 != 0,
		HasVideo:   data[4]&0x04 != 0,
		DataOffset: be32(data[5:]),
	}
	if h.DataOffset < FileHeaderLength {
		return FileHeader{}, fmt.Errorf("file header: data offset %d: %w", h.DataOffset, media.ErrInvalidFormat)
	}
	return h, nil
}

// ReadTagHeader reads the next 11-byte tag header, preceded by the 4-byte
// previous-tag-size field when skipPreviousSize is set. A read that cannot
// produce a complete header yields a TagEOF header rather than an error;
// well-formed files end on the final previous-tag-size field.
func (p *Parser) ReadTagHeader(skipPreviousSize bool, cb func(TagHeader, error)) {
	n := TagHeaderLength
	if skipPreviousSize {
		n += PreviousTagSizeLength
	}
	p.bs.ReadAsync(n, func(data []byte, err error) {
		if err != nil {
			cb(TagHeader{}, err)
			return
		}
		if len(data) < n {
			cb(TagHeader{Type: TagEOF}, nil)
			return
		}
		if skipPreviousSize {
			data = data[PreviousTagSizeLength:]
		}
		h := TagHeader{
			Type:        TagUnknown,
			PayloadSize: be24(data[1:]),
			Timestamp:   int32(uint32(data[7])<<24 | be24(data[4:])),
			StreamID:    be24(data[8:]),
			DataOffset:  p.bs.Position(),
		}
		switch TagType(data[0]) {
		case TagAudio, TagVideo, TagScript:
			h.Type = TagType(data[0])
		}
		cb(h, nil)
	})
}

// ReadOnMetaData reads a script tag payload of the given size and decodes
// it. meta is nil when the tag is not onMetaData; the payload is consumed
// either way.
func (p *Parser) ReadOnMetaData(size uint32, cb func(meta *Metadata, err error)) {
	p.ReadPayload(size, func(data []byte, err error) {
		if err != nil {
			cb(nil, err)
			return
		}
		meta, err := DecodeOnMetaData(data)
		cb(meta, err)
	})
}

// ReadAudioHeader reads and decodes the first payload byte of an audio tag.
func (p *Parser) ReadAudioHeader(cb func(AudioHeader, error)) {
	p.readByte(func(b byte, err error) {
		if err != nil {
			cb(AudioHeader{}, err)
			return
		}
		cb(decodeAudioHeader(b), nil)
	})
}

// ReadVideoHeader reads and decodes the first payload byte of a video tag.
func (p *Parser) ReadVideoHeader(cb func(VideoHeader, error)) {
	p.readByte(func(b byte, err error) {
		if err != nil {
			cb(VideoHeader{}, err)
			return
		}
		cb(decodeVideoHeader(b), nil)
	})
}

// ReadAACPacketType reads the one-byte AAC packet type.
func (p *Parser) ReadAACPacketType(cb func(AACPacketType, error)) {
	p.readByte(func(b byte, err error) {
		cb(AACPacketType(b), err)
	})
}

// ReadAVCPacketType reads the AVC packet type and the signed 24-bit
// composition-time offset in milliseconds.
func (p *Parser) ReadAVCPacketType(cb func(t AVCPacketType, compositionTime int32, err error)) {
	p.bs.ReadAsync(4, func(data []byte, err error) {
		if err != nil {
			cb(0, 0, err)
			return
		}
		if len(data) < 4 {
			cb(0, 0, fmt.Errorf("avc packet type: %d bytes: %w", len(data), media.ErrInvalidFormat))
			return
		}
		ct := int32(be24(data[1:]))
		if ct&0x800000 != 0 {
			ct -= 1 << 24
		}
		cb(AVCPacketType(data[0]), ct, nil)
	})
}

// ReadPayload reads exactly size raw bytes.
func (p *Parser) ReadPayload(size uint32, cb func([]byte, error)) {
	p.bs.ReadAsync(int(size), func(data []byte, err error) {
		if err != nil {
			cb(nil, err)
			return
		}
		if uint32(len(data)) < size {
			cb(nil, fmt.Errorf("payload: %d of %d bytes: %w", len(data), size, media.ErrInvalidFormat))
			return
		}
		cb(data, nil)
	})
}

// SeekForward advances the stream position by n bytes, cancelling any
// pending reads.
func (p *Parser) SeekForward(n int64) error {
	_, err := p.bs.Seek(media.SeekCurrent, n, true)
	return err
}

func (p *Parser) readByte(cb func(byte, error)) {
	p.bs.ReadAsync(1, func(data []byte, err error) {
		if err != nil {
			cb(0, err)
			return
		}
		if len(data) < 1 {
			cb(0, fmt.Errorf("header byte: %w", media.ErrInvalidFormat))
			return
		}
		cb(data[0], nil)
	})
}

func be24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
