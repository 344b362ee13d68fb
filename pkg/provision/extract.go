package provision

import (
	"archive/tar"
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/klauspost/compress/gzip"
)

var (
	ErrFailedFileRead  = errors.New("failed to read file")
	ErrFailedFileWrite = errors.New("failed to write file")
	ErrFailedFileClose = errors.New("failed to close file")
	ErrIteratingTar    = errors.New("error iterating on tar reader")
)

// ErrTooLarge is returned when an archive holds more than the extract limit.
var ErrTooLarge = errors.New("archive content exceeds the size limit")

// sizeLimitReader reads at most n bytes from r and fails with [ErrTooLarge]
// once r has more data, rather than reporting a clean EOF.
type sizeLimitReader struct {
	r   io.Reader
	n   int64
	max int64
}

func (l *sizeLimitReader) Read(p []byte) (int, error) {
	if l.n <= 0 {
		var probe [1]byte

		k, err := l.r.Read(probe[:])
		if k > 0 {
			return 0, fmt.Errorf("%w of %d bytes", ErrTooLarge, l.max)
		}

		return 0, err
	}

	if int64(len(p)) > l.n {
		p = p[:l.n]
	}

	k, err := l.r.Read(p)
	l.n -= int64(k)

	return k, err
}

// extractFlat unpacks the regular files of a gzipped tarball directly into
// dstPath, dropping their directory components. Directories and links are
// skipped, as is any entry named reserved. Executable bits are kept, other
// permission bits are normalized. dstPath must be an absolute path to an
// existing directory.
func extractFlat(dstPath string, r io.Reader, maxSize int64, reserved string) ([]string, error) {
	if !filepath.IsAbs(dstPath) {
		return nil, fmt.Errorf("dstPath points to a relative path: %s", dstPath)
	}

	gzr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedFileRead, err)
	}
	defer func() {
		err := gzr.Close()
		if err != nil {
			slog.Error("failed to close gzip reader",
				slog.Any("err", err),
			)
		}
	}()

	var tr *tar.Reader

	if maxSize != 0 {
		tr = tar.NewReader(&sizeLimitReader{r: gzr, n: maxSize, max: maxSize})
	} else {
		tr = tar.NewReader(gzr)
	}

	written := []string{}

	for {
		header, err := tr.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}

			return written, fmt.Errorf("%w: %w", ErrIteratingTar, err)
		}

		if header == nil || header.Typeflag != tar.TypeReg {
			continue
		}

		name := path.Base(filepath.ToSlash(header.Name))
		if name == "." || name == ".." || name == "/" || name == reserved ||
			strings.ContainsRune(name, os.PathSeparator) {
			continue
		}

		target := filepath.Join(dstPath, name)
		// Sanity check to protect against zip-slip.
		if !inbound(target, dstPath) {
			return written, fmt.Errorf("illegal filepath in archive: %s", target)
		}

		var mode os.FileMode = 0o644
		if header.Mode&0o111 != 0 {
			mode = 0o755
		}

		err = writeFile(target, tr, mode)
		if err != nil {
			return written, err
		}

		written = append(written, name)
	}

	return written, nil
}

func writeFile(target string, r io.Reader, mode os.FileMode) error {
	//nolint:gosec // G304 checked by [inbound].
	f, err := os.OpenFile(target, os.O_RDWR|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("error creating file %q: %w", target, err)
	}

	w := bufio.NewWriter(f)

	_, err = io.Copy(w, r)
	if err == nil {
		err = w.Flush()
	}

	if err != nil {
		merr := fmt.Errorf("%w: %w", ErrFailedFileWrite, err)

		errClose := f.Close()
		if errClose != nil {
			merr = multierror.Append(merr, fmt.Errorf("%w: %w", ErrFailedFileClose, errClose))
		}

		return fmt.Errorf("error on file %q: %w", target, merr)
	}

	err = f.Close()
	if err != nil {
		return fmt.Errorf("%w %q: %w", ErrFailedFileClose, target, err)
	}

	// OpenFile applies the umask; make sure executables stay executable.
	err = os.Chmod(target, mode)
	if err != nil {
		return fmt.Errorf("chmod %q: %w", target, err)
	}

	return nil
}

// inbound will validate if the given candidate path is inside the
// baseDir. This is useful to make sure that malicious candidates
// are not targeting a file outside of baseDir boundaries.
// Considerations:
//   - baseDir must be absolute path. Will return false otherwise.
//   - candidate can be absolute or relative path.
//   - candidate should not be symlink as only syntactic validation is applied
//     by this function.
func inbound(candidate, baseDir string) bool {
	if !filepath.IsAbs(baseDir) {
		return false
	}

	var target string
	if filepath.IsAbs(candidate) {
		target = filepath.Clean(candidate)
	} else {
		target = filepath.Join(baseDir, candidate)
	}

	return strings.HasPrefix(target, filepath.Clean(baseDir)+string(os.PathSeparator))
}
