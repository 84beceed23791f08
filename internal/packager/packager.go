// Package packager bundles the GeoPackages of a run into a single zip
// archive.
package packager

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/ajitpratap0/gpkgsink/pkg/config"
	"github.com/ajitpratap0/gpkgsink/pkg/feedback"
	"github.com/ajitpratap0/gpkgsink/pkg/sinkerrors"
)

// Options controls archive creation.
type Options struct {
	ArchiveName string
	Method      string
	KeepLoose   bool
}

// OptionsFromConfig maps the output section of the run configuration.
func OptionsFromConfig(out config.OutputConfig) Options {
	return Options{
		ArchiveName: out.ArchiveName,
		Method:      out.ArchiveMethod,
		KeepLoose:   out.KeepLooseFiles,
	}
}

// Result describes a written archive.
type Result struct {
	Path  string
	Files []string
}

func zipMethod(method string) (uint16, error) {
	switch method {
	case "", config.ArchiveDeflate:
		return zip.Deflate, nil
	case config.ArchiveStore:
		return zip.Store, nil
	case config.ArchiveZstd:
		return zstd.ZipMethodWinZip, nil
	default:
		return 0, sinkerrors.Newf(sinkerrors.ErrorTypeConfig, "unknown archive method %q", method)
	}
}

// Package writes the named files, which must live directly under dir,
// into one archive in dir and removes the originals once the archive is
// complete. Other files in dir are left alone. On error or cancellation the
// partial archive is removed and the originals are kept.
func Package(ctx context.Context, fb *feedback.Feedback, dir string, names []string, opts Options) (*Result, error) {
	method, err := zipMethod(opts.Method)
	if err != nil {
		return nil, err
	}
	name := opts.ArchiveName
	if name == "" {
		name = config.DefaultArchiveName
	}

	names = append([]string(nil), names...)
	sort.Strings(names)
	files := make([]string, 0, len(names))
	for _, n := range names {
		if n != filepath.Base(n) {
			return nil, sinkerrors.Newf(sinkerrors.ErrorTypeFile, "archive entry %q is not a plain file name", n)
		}
		files = append(files, filepath.Join(dir, n))
	}

	archivePath := filepath.Join(dir, name)
	if err := writeArchive(ctx, fb, archivePath, files, method); err != nil {
		_ = os.Remove(archivePath)
		return nil, err
	}

	res := &Result{Path: archivePath, Files: names}
	fb.Info("archive written",
		zap.String("path", archivePath),
		zap.Int("files", len(files)))

	if opts.KeepLoose {
		return res, nil
	}
	for _, f := range files {
		if err := os.Remove(f); err != nil {
			return res, sinkerrors.Wrap(err, sinkerrors.ErrorTypeFile, "failed to remove archived file").
				WithDetail("path", f)
		}
	}
	return res, nil
}

func writeArchive(ctx context.Context, fb *feedback.Feedback, path string, files []string, method uint16) error {
	out, err := os.Create(path)
	if err != nil {
		return sinkerrors.Wrap(err, sinkerrors.ErrorTypeFile, "failed to create archive").
			WithDetail("path", path)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	if method == zstd.ZipMethodWinZip {
		zw.RegisterCompressor(zstd.ZipMethodWinZip, zstd.ZipCompressor())
	}

	for _, f := range files {
		if err := fb.EnsureNotCanceled(); err != nil {
			_ = zw.Close()
			return err
		}
		if err := ctx.Err(); err != nil {
			_ = zw.Close()
			return sinkerrors.Wrap(err, sinkerrors.ErrorTypeCanceled, "archive interrupted")
		}
		if err := addFile(zw, f, method); err != nil {
			_ = zw.Close()
			return sinkerrors.Wrap(err, sinkerrors.ErrorTypeFile, "failed to add file to archive").
				WithDetail("path", f)
		}
	}

	if err := zw.Close(); err != nil {
		return sinkerrors.Wrap(err, sinkerrors.ErrorTypeFile, "failed to finish archive")
	}
	if err := out.Sync(); err != nil {
		return sinkerrors.Wrap(err, sinkerrors.ErrorTypeFile, "failed to sync archive")
	}
	return nil
}

func addFile(zw *zip.Writer, path string, method uint16) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	hdr.Name = filepath.Base(path)
	hdr.Method = method

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, in)
	return err
}
