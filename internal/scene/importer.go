package scene

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/Faultbox/animchan/internal/logger"
	"github.com/Faultbox/animchan/pkg/grf"
)

// Format identifies a scene file format.
type Format string

const (
	FormatUnknown Format = ""
	FormatRSM     Format = "rsm"
	FormatGLTF    Format = "gltf"
)

// Options configures an Importer.
type Options struct {
	// GRFPaths are archives searched, in order, when a path is not on disk.
	GRFPaths []string
	// DecodeNames converts EUC-KR names in RSM models to UTF-8.
	DecodeNames bool
	// Format forces a format instead of detecting it.
	Format Format
}

// Importer loads scene files from disk or from GRF archives.
type Importer struct {
	opts     Options
	archives []*grf.Archive
	opened   bool
}

// NewImporter creates an importer. Archives are opened on first use.
func NewImporter(opts Options) *Importer {
	return &Importer{opts: opts}
}

// Import reads and parses the file at path, then applies the post-processing
// steps in flags. Any failure is returned as an *ImportError.
func (im *Importer) Import(path string, flags ProcessFlags) (*Scene, error) {
	s, err := im.load(path)
	if err != nil {
		return nil, &ImportError{Path: path, Err: err}
	}

	Process(s, flags)

	logger.Info("scene imported",
		zap.String("path", path),
		zap.Int("meshes", len(s.Meshes)),
		zap.Int("animations", len(s.Animations)),
		zap.Stringer("flags", flags))
	return s, nil
}

func (im *Importer) load(path string) (*Scene, error) {
	// Archive paths use backslashes on every platform.
	base := path[strings.LastIndexAny(path, `/\`)+1:]
	name := strings.TrimSuffix(base, filepath.Ext(base))

	data, onDisk, err := im.read(path)
	if err != nil {
		return nil, err
	}

	format := im.opts.Format
	if format == FormatUnknown {
		format = DetectFormat(path, data)
	}
	logger.Debug("importing",
		zap.String("path", path),
		zap.String("format", string(format)),
		zap.Bool("on_disk", onDisk),
		zap.String("size", humanize.Bytes(uint64(len(data)))))

	switch format {
	case FormatRSM:
		return importRSM(data, name, im.opts.DecodeNames)
	case FormatGLTF:
		if onDisk {
			return importGLTFFile(path, name)
		}
		return importGLTFBytes(data, name)
	default:
		return nil, ErrUnsupportedFormat
	}
}

// read returns the file contents and whether they came from disk.
func (im *Importer) read(path string) ([]byte, bool, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return data, true, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, false, err
	}

	im.openArchives()
	for _, a := range im.archives {
		if !a.Contains(path) {
			continue
		}
		data, err := a.Read(path)
		if err != nil {
			return nil, false, fmt.Errorf("reading from %s: %w", a.Path(), err)
		}
		logger.Debug("found in archive", zap.String("path", path), zap.String("archive", a.Path()))
		return data, false, nil
	}

	if len(im.archives) > 0 {
		return nil, false, fmt.Errorf("%w on disk or in %d archive(s)", ErrNotFound, len(im.archives))
	}
	return nil, false, ErrNotFound
}

// openArchives opens the configured archives once. Archives that fail to
// open are logged and skipped.
func (im *Importer) openArchives() {
	if im.opened {
		return
	}
	im.opened = true
	for _, p := range im.opts.GRFPaths {
		a, err := grf.Open(p)
		if err != nil {
			logger.Warn("skipping archive", zap.String("archive", p), zap.Error(err))
			continue
		}
		if ce := logger.Log.Check(zap.DebugLevel, "archive opened"); ce != nil {
			ce.Write(zap.String("archive", p), zap.Int("files", len(a.List())))
		}
		im.archives = append(im.archives, a)
	}
}

// Close closes any archives opened by the importer.
func (im *Importer) Close() error {
	var errs []error
	for _, a := range im.archives {
		if err := a.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	im.archives = nil
	im.opened = false
	return errors.Join(errs...)
}

// DetectFormat picks a format from the file extension, falling back to the
// leading bytes.
func DetectFormat(path string, data []byte) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".rsm", ".rsm2":
		return FormatRSM
	case ".gltf", ".glb":
		return FormatGLTF
	}

	switch {
	case bytes.HasPrefix(data, []byte("GRSM")):
		return FormatRSM
	case bytes.HasPrefix(data, []byte("glTF")):
		return FormatGLTF
	case bytes.HasPrefix(bytes.TrimLeft(data, " \t\r\n\ufeff"), []byte("{")):
		return FormatGLTF
	}
	return FormatUnknown
}

// ParseFormat converts a config or flag value to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "":
		return FormatUnknown, nil
	case "rsm", "rsm2":
		return FormatRSM, nil
	case "gltf", "glb":
		return FormatGLTF, nil
	}
	return FormatUnknown, fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}
