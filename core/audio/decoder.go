package audio

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"harmony/model"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/flac"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/vorbis"
	"github.com/gopxl/beep/v2/wav"
)

type decodeFunc func(f *os.File) (beep.StreamSeekCloser, beep.Format, error)

var decoders = map[string]decodeFunc{
	".mp3": func(f *os.File) (beep.StreamSeekCloser, beep.Format, error) { return mp3.Decode(f) },
	".wav": func(f *os.File) (beep.StreamSeekCloser, beep.Format, error) { return wav.Decode(f) },
	".flac": func(f *os.File) (beep.StreamSeekCloser, beep.Format, error) {
		return flac.Decode(f)
	},
	".ogg": func(f *os.File) (beep.StreamSeekCloser, beep.Format, error) { return vorbis.Decode(f) },
	".oga": func(f *os.File) (beep.StreamSeekCloser, beep.Format, error) { return vorbis.Decode(f) },
}

// SupportedExtension reports whether files with this name can be decoded.
func SupportedExtension(path string) bool {
	_, ok := decoders[strings.ToLower(filepath.Ext(path))]
	return ok
}

// decode opens path and returns a seekable PCM stream. The file is closed on
// every failure path; on success it is owned by the returned streamer.
func decode(path string) (beep.StreamSeekCloser, beep.Format, error) {
	dec, ok := decoders[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return nil, beep.Format{}, fmt.Errorf("%w: %s", model.ErrUnsupportedFormat, filepath.Ext(path))
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, beep.Format{}, fmt.Errorf("%w: %v", model.ErrUnreadableFile, err)
	}

	streamer, format, err := dec(f)
	if err != nil {
		f.Close()
		return nil, beep.Format{}, fmt.Errorf("%w: %v", model.ErrUnsupportedFormat, err)
	}
	if format.SampleRate <= 0 {
		streamer.Close()
		f.Close()
		return nil, beep.Format{}, fmt.Errorf("%w: invalid sample rate", model.ErrUnsupportedFormat)
	}
	return &fileStreamer{StreamSeekCloser: streamer, file: f}, format, nil
}

// fileStreamer closes the backing file together with the decoder; not every
// decoder closes its reader.
type fileStreamer struct {
	beep.StreamSeekCloser
	file io.Closer
}

func (s *fileStreamer) Close() error {
	err := s.StreamSeekCloser.Close()
	s.file.Close()
	return err
}
