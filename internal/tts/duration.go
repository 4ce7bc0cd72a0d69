package tts

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"
)

// EncodeWAV wraps little-endian PCM data in a 44-byte RIFF header.
func EncodeWAV(pcm []byte, sampleRate, channels, bitsPerSample int) []byte {
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	buf := bytes.NewBuffer(make([]byte, 0, 44+len(pcm)))
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(buf, binary.LittleEndian, uint16(channels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}

// WAVDuration reads the byte rate and data chunk size from a RIFF file.
func WAVDuration(data []byte) (time.Duration, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return 0, fmt.Errorf("%w: not a RIFF/WAVE file", ErrUnknownFormat)
	}

	var byteRate uint32
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := binary.LittleEndian.Uint32(data[off+4 : off+8])
		body := off + 8
		switch id {
		case "fmt ":
			if body+12 > len(data) {
				return 0, fmt.Errorf("%w: truncated fmt chunk", ErrUnknownFormat)
			}
			byteRate = binary.LittleEndian.Uint32(data[body+8 : body+12])
		case "data":
			if byteRate == 0 {
				return 0, fmt.Errorf("%w: data before fmt", ErrUnknownFormat)
			}
			if avail := uint32(len(data) - body); size > avail {
				size = avail
			}
			return time.Duration(float64(size) / float64(byteRate) * float64(time.Second)), nil
		}
		off = body + int(size) + int(size&1)
	}
	return 0, fmt.Errorf("%w: no data chunk", ErrUnknownFormat)
}

// Duration returns the playback length of resp: the provider's value when
// set, otherwise an estimate from the encoded audio. MP3 is assumed to be
// constant bitrate at mp3Kbps.
func Duration(resp *SynthesizeResponse, mp3Kbps int) (time.Duration, error) {
	if resp == nil || len(resp.Audio) == 0 {
		return 0, ErrEmptyAudio
	}
	if resp.Duration > 0 {
		return resp.Duration, nil
	}
	switch resp.Format {
	case "wav":
		return WAVDuration(resp.Audio)
	case "mp3":
		if mp3Kbps <= 0 {
			mp3Kbps = 128
		}
		bits := float64(len(resp.Audio)) * 8
		return time.Duration(bits / float64(mp3Kbps*1000) * float64(time.Second)), nil
	}
	return 0, fmt.Errorf("%w: format %q", ErrUnknownFormat, resp.Format)
}
