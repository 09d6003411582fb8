package container

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

var ErrTemplateOutsideDir = errors.New("template path escapes the templates directory")

// resolveTemplate maps a group template reference to a path under root.
// References may carry a local:// prefix; remote schemes are not served.
func resolveTemplate(root, ref string) (string, error) {
	ref = strings.TrimPrefix(strings.TrimSpace(ref), "local://")
	if ref == "" {
		return "", errors.New("empty template reference")
	}
	if strings.Contains(ref, "://") {
		return "", fmt.Errorf("unsupported template source %q", ref)
	}

	rel := filepath.Clean(filepath.FromSlash(ref))
	if filepath.IsAbs(rel) || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrTemplateOutsideDir, ref)
	}
	return filepath.Join(root, rel), nil
}

// applyTemplates copies each template into dir in order, so later
// templates overwrite files of earlier ones. A missing template is logged
// and skipped.
func applyTemplates(root, dir string, templates []string, log *logrus.Entry) error {
	for _, ref := range templates {
		src, err := resolveTemplate(root, ref)
		if err != nil {
			return err
		}

		info, err := os.Stat(src)
		if errors.Is(err, fs.ErrNotExist) {
			log.Warnf("Template %s not found in %s", ref, root)
			continue
		}
		if err != nil {
			return fmt.Errorf("stat template %s: %w", ref, err)
		}

		if info.IsDir() {
			err = copyTree(src, dir)
		} else {
			err = copyFile(src, filepath.Join(dir, info.Name()), info.Mode())
		}
		if err != nil {
			return fmt.Errorf("apply template %s: %w", ref, err)
		}
		log.Debugf("Applied template %s", ref)
	}
	return nil
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return copyFile(path, target, info.Mode())
	})
}

func copyFile(src, dst string, mode fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode.Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
