// Package testutil holds fixtures shared by tests
package testutil

import "encoding/binary"

// HTMLErrorPage is what a misconfigured reverse proxy returns with a 200
const HTMLErrorPage = `<!DOCTYPE html>
<html><head><title>502 Bad Gateway</title></head>
<body><h1>Bad Gateway</h1><p>The recorder did not respond.</p></body></html>
`

// MinimalMP4 returns a small ISO-BMFF file with a single video track and
// a few bytes of media data
func MinimalMP4() []byte {
	return buildMP4("vide", []byte("\x00\x00\x00\x01frame-data"))
}

// AudioOnlyMP4 returns an ISO-BMFF file whose only track is sound
func AudioOnlyMP4() []byte {
	return buildMP4("soun", []byte("audio-data"))
}

// TruncatedMP4 returns a file whose mdat claims more bytes than it holds
func TruncatedMP4() []byte {
	data := MinimalMP4()
	mdatStart := len(data) - (8 + len("\x00\x00\x00\x01frame-data"))
	binary.BigEndian.PutUint32(data[mdatStart:], 4096)
	return data
}

// LargeMP4 returns a valid video file padded with size bytes of media data
func LargeMP4(size int) []byte {
	payload := make([]byte, size)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	return buildMP4("vide", payload)
}

func buildMP4(handler string, mdat []byte) []byte {
	ftyp := box("ftyp", concat(
		[]byte("isom"),
		[]byte{0, 0, 0, 0},
		[]byte("isomiso2avc1mp41"),
	))

	hdlrPayload := concat(
		[]byte{0, 0, 0, 0}, // version and flags
		[]byte{0, 0, 0, 0}, // pre_defined
		[]byte(handler),
		make([]byte, 12), // reserved
		[]byte("Handler\x00"),
	)
	moov := box("moov", box("trak", box("mdia", box("hdlr", hdlrPayload))))

	return concat(ftyp, moov, box("mdat", mdat))
}

func box(boxType string, payload []byte) []byte {
	out := make([]byte, 8, 8+len(payload))
	binary.BigEndian.PutUint32(out, uint32(8+len(payload)))
	copy(out[4:], boxType)
	return append(out, payload...)
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
