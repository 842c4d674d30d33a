package unfurl

import (
	"bytes"
	"strings"
)

// mediaKind classifies a resource for embed purposes.
type mediaKind string

const (
	kindImage mediaKind = "image"
	kindVideo mediaKind = "video"
	kindAudio mediaKind = "audio"
	kindNone  mediaKind = ""
)

// kindFromContentType maps a MIME type to a media kind.
func kindFromContentType(ct string) mediaKind {
	switch {
	case strings.HasPrefix(ct, "image/"):
		return kindImage
	case strings.HasPrefix(ct, "video/"):
		return kindVideo
	case strings.HasPrefix(ct, "audio/"):
		return kindAudio
	}
	return kindNone
}

// sniffMediaKind detects media by magic bytes, for servers that lie about
// their content type.
func sniffMediaKind(buf []byte) mediaKind {
	if len(buf) == 0 {
		return kindNone
	}

	switch {
	// images
	case bytes.HasPrefix(buf, []byte("\x89PNG\r\n\x1a\n")):
		return kindImage
	case bytes.HasPrefix(buf, []byte{0xFF, 0xD8, 0xFF}):
		return kindImage
	case bytes.HasPrefix(buf, []byte("GIF87a")), bytes.HasPrefix(buf, []byte("GIF89a")):
		return kindImage
	case len(buf) >= 12 && bytes.Equal(buf[0:4], []byte("RIFF")) && bytes.Equal(buf[8:12], []byte("WEBP")):
		return kindImage

	// videos
	case len(buf) >= 12 && bytes.Equal(buf[4:8], []byte("ftyp")):
		return kindVideo
	case bytes.HasPrefix(buf, []byte{0x1A, 0x45, 0xDF, 0xA3}): // webm/mkv ebml
		return kindVideo

	// audio; ogg can carry video too but audio is the common case
	case bytes.HasPrefix(buf, []byte("OggS")):
		return kindAudio
	case len(buf) >= 12 && bytes.Equal(buf[0:4], []byte("RIFF")) && bytes.Equal(buf[8:12], []byte("WAVE")):
		return kindAudio
	case bytes.HasPrefix(buf, []byte("fLaC")):
		return kindAudio
	case bytes.HasPrefix(buf, []byte("ID3")):
		return kindAudio
	case len(buf) >= 2 && buf[0] == 0xFF && buf[1]&0xE0 == 0xE0 && buf[1]&0xF6 != 0xF0: // mp3 frame sync
		return kindAudio
	case len(buf) >= 2 && buf[0] == 0xFF && buf[1]&0xF6 == 0xF0: // aac adts
		return kindAudio
	}
	return kindNone
}

// looksLikeHTML reports whether the buffer starts like an HTML document.
func looksLikeHTML(buf []byte) bool {
	b := bytes.TrimLeft(buf, " \t\r\n")
	if len(b) == 0 {
		return false
	}
	lower := bytes.ToLower(b)
	return bytes.HasPrefix(lower, []byte("<!doctype")) ||
		bytes.HasPrefix(lower, []byte("<html")) ||
		bytes.HasPrefix(lower, []byte("<!--")) ||
		b[0] == '<'
}
