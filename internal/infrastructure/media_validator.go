package infrastructure

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/abema/go-mp4"
	"github.com/gabriel-vasile/mimetype"
	"github.com/mjehrhart/viewu-sub000/internal/domain"
	"go.uber.org/zap"
)

var videoHandler = [4]byte{'v', 'i', 'd', 'e'}

// MediaValidator rejects downloaded files that cannot be played, such as an
// HTML error page saved under a .mp4 name or a truncated clip
type MediaValidator struct {
	logger *zap.Logger
}

// NewMediaValidator creates a new media validator
func NewMediaValidator(logger *zap.Logger) *MediaValidator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MediaValidator{logger: logger}
}

// Validate returns an error matching domain.ErrNotAVideo unless the file
// is an ISO-BMFF container with at least one video track and complete
// media data
func (v *MediaValidator) Validate(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return domain.NewNotAVideoError(err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return domain.NewNotAVideoError(err)
	}
	if info.Size() == 0 {
		return domain.NewNotAVideoError(errors.New("file is empty"))
	}

	header := make([]byte, 12)
	n, err := io.ReadFull(f, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return domain.NewNotAVideoError(err)
	}
	header = header[:n]

	if !isISOBMFF(header) {
		// Only MP4-family containers can be checked for a video track, so
		// anything else is rejected. The sniffed type only names it in logs.
		kind := "unknown"
		if _, err := f.Seek(0, io.SeekStart); err == nil {
			if mtype, err := mimetype.DetectReader(f); err == nil {
				kind = mtype.String()
			}
		}
		v.logger.Debug("Rejected media file",
			zap.String("path", path),
			zap.String("mime", kind))
		return domain.NewNotAVideoError(fmt.Errorf("content type %s is not an MP4 container", kind))
	}

	if err := checkVideoTrack(f, info.Size()); err != nil {
		v.logger.Debug("Rejected media file", zap.String("path", path), zap.Error(err))
		return domain.NewNotAVideoError(err)
	}
	return nil
}

// isISOBMFF reports whether the file starts with an ftyp box
func isISOBMFF(header []byte) bool {
	return len(header) >= 8 && bytes.Equal(header[4:8], []byte("ftyp"))
}

// checkVideoTrack walks moov/trak/mdia/hdlr looking for a video handler and
// makes sure no media data box runs past the end of the file
func checkVideoTrack(r io.ReadSeeker, size int64) error {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return err
	}
	handlers, err := mp4.ExtractBoxWithPayload(r, nil, mp4.BoxPath{
		mp4.BoxTypeMoov(), mp4.BoxTypeTrak(), mp4.BoxTypeMdia(), mp4.BoxTypeHdlr(),
	})
	if err != nil {
		return fmt.Errorf("failed to read track handlers: %w", err)
	}

	hasVideo := false
	for _, box := range handlers {
		hdlr, ok := box.Payload.(*mp4.Hdlr)
		if ok && hdlr.HandlerType == videoHandler {
			hasVideo = true
			break
		}
	}
	if !hasVideo {
		return errors.New("no video track")
	}

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return err
	}
	mdats, err := mp4.ExtractBox(r, nil, mp4.BoxPath{mp4.BoxTypeMdat()})
	if err != nil {
		return fmt.Errorf("failed to read media data: %w", err)
	}
	for _, mdat := range mdats {
		if int64(mdat.Offset+mdat.Size) > size {
			return errors.New("media data is truncated")
		}
	}
	return nil
}
