package expand

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
)

var tokenPattern = regexp.MustCompile(`\$\{([^}]*)\}`)

// Flatten converts nested maps into a flat map with dotted keys. Leaf values
// are formatted with [fmt.Sprint], except floats, which never use exponent
// notation since decoded YAML integers arrive as float64. nil becomes an empty
// string.
func Flatten(m map[string]any) map[string]string {
	out := map[string]string{}
	flatten("", m, out)

	return out
}

func flatten(prefix string, m map[string]any, out map[string]string) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}

		switch tv := v.(type) {
		case map[string]any:
			flatten(key, tv, out)
		case nil:
			out[key] = ""
		case float64:
			out[key] = strconv.FormatFloat(tv, 'f', -1, 64)
		case float32:
			out[key] = strconv.FormatFloat(float64(tv), 'f', -1, 32)
		default:
			out[key] = fmt.Sprint(tv)
		}
	}
}

// Replace substitutes every `${key}` in content whose key is in tokens.
func Replace(content []byte, tokens map[string]string) []byte {
	if len(tokens) == 0 {
		return content
	}

	return tokenPattern.ReplaceAllFunc(content, func(match []byte) []byte {
		v, ok := tokens[string(match[2:len(match)-1])]
		if !ok {
			return match
		}

		return []byte(v)
	})
}

// CopyTree copies the directory tree at src to dst, applying [Replace] to
// every regular text file. File modes are kept. Binary files (containing a
// NUL byte) are copied unchanged.
func CopyTree(ctx context.Context, src, dst string, tokens map[string]string) error {
	for _, k := range slices.Sorted(maps.Keys(tokens)) {
		slog.DebugContext(ctx, "discovered token",
			slog.String("key", k),
			slog.String("value", tokens[k]),
		)
	}

	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return fmt.Errorf("relative path: %w", err)
		}

		target := filepath.Join(dst, rel)

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", path, err)
		}

		if d.IsDir() {
			err = os.MkdirAll(target, info.Mode().Perm()|0o700)
			if err != nil {
				return fmt.Errorf("create dir: %w", err)
			}

			return nil
		}

		if !info.Mode().IsRegular() {
			slog.DebugContext(ctx, "skipping non-regular file", slog.String("path", path))

			return nil
		}

		b, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		if !bytes.ContainsRune(b, 0) {
			b = Replace(b, tokens)
		}

		err = os.WriteFile(target, b, info.Mode().Perm())
		if err != nil {
			return fmt.Errorf("write %s: %w", target, err)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("copy %s to %s: %w", src, dst, err)
	}

	return nil
}
