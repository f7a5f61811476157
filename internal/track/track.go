// Package track loads local audio files into the metadata shape the upload
// pipeline submits. Only MP3, FLAC, and WAV sources are supported — the
// same set the locker service accepts.
package track

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dhowden/tag"
	"golang.org/x/text/unicode/norm"
)

// ErrUnsupportedFormat means the file is not MP3, FLAC, or WAV.
var ErrUnsupportedFormat = errors.New("track: file must be MP3, FLAC, or WAV")

// Format is the detected source audio format.
type Format int

// Supported source formats. Lossless reports true for the two that always
// transcode before transfer.
const (
	FormatUnknown Format = iota
	FormatMP3
	FormatFLAC
	FormatWAV
)

func (f Format) String() string {
	switch f {
	case FormatMP3:
		return "MP3"
	case FormatFLAC:
		return "FLAC"
	case FormatWAV:
		return "WAV"
	default:
		return "unknown"
	}
}

// Lossless reports whether the format is lossless/uncompressed.
func (f Format) Lossless() bool {
	return f == FormatFLAC || f == FormatWAV
}

// Track is a parsed local media item: the file, its detected format, and
// its tags. Tag strings are NFC-normalized so the same song tagged on
// different platforms submits identical metadata.
type Track struct {
	Path   string
	Format Format
	Size   int64

	Title       string
	Artist      string
	Album       string
	AlbumArtist string
	Genre       string
	TrackNumber int
	Year        int

	// EmbeddedArt is the first embedded picture, if any.
	EmbeddedArt []byte
}

// sniffLen is how many leading bytes format detection reads.
const sniffLen = 12

// Load reads and parses a local audio file. Files without tags are still
// accepted: the title falls back to the file name.
func Load(path string) (*Track, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("track: opening %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("track: stat %s: %w", path, err)
	}

	format, err := detectFormat(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}

	t := &Track{
		Path:   path,
		Format: format,
		Size:   info.Size(),
	}

	applyTags(t, f)

	if t.Title == "" {
		base := filepath.Base(path)
		t.Title = clean(strings.TrimSuffix(base, filepath.Ext(base)))
	}

	return t, nil
}

// detectFormat sniffs the file header. Extension is not trusted: renamed
// files are common in music libraries.
func detectFormat(r io.ReadSeeker) (Format, error) {
	header := make([]byte, sniffLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return FormatUnknown, err
	}

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return FormatUnknown, err
	}

	switch {
	case bytes.HasPrefix(header, []byte("fLaC")):
		return FormatFLAC, nil
	case bytes.HasPrefix(header, []byte("RIFF")) && bytes.Equal(header[8:12], []byte("WAVE")):
		return FormatWAV, nil
	case bytes.HasPrefix(header, []byte("ID3")):
		return FormatMP3, nil
	case len(header) >= 2 && header[0] == 0xFF && header[1]&0xE0 == 0xE0:
		// Bare MPEG frame sync, no ID3 header.
		return FormatMP3, nil
	default:
		return FormatUnknown, ErrUnsupportedFormat
	}
}

// applyTags fills tag-derived fields. Tag read failures are not fatal —
// untagged files upload with filename-derived titles.
func applyTags(t *Track, r io.ReadSeeker) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return
	}

	meta, err := tag.ReadFrom(r)
	if err != nil {
		return
	}

	t.Title = clean(meta.Title())
	t.Artist = clean(meta.Artist())
	t.Album = clean(meta.Album())
	t.AlbumArtist = clean(meta.AlbumArtist())
	t.Genre = clean(meta.Genre())
	t.Year = meta.Year()
	t.TrackNumber, _ = meta.Track()

	if pic := meta.Picture(); pic != nil {
		t.EmbeddedArt = pic.Data
	}
}

// clean trims and NFC-normalizes a tag string.
func clean(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}
