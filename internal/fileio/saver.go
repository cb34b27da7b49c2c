package fileio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/ssd-technologies/takedat/internal/protocol"
)

const (
	appDirName   = "takedat"
	fallbackName = "download"
	maxRenames   = 1000
)

// DefaultDownloadDir is the user's download directory plus an app folder.
func DefaultDownloadDir() string {
	dir := xdg.UserDirs.Download
	if dir == "" {
		return filepath.Join(".", appDirName)
	}
	return filepath.Join(dir, appDirName)
}

// Saver writes received files into Dir without overwriting existing ones.
type Saver struct {
	Dir string
}

// Save writes data under a name derived from meta.FileName. If the name is
// taken, " (1)", " (2)" and so on are inserted before the extension.
func (s Saver) Save(meta protocol.FileMeta, data []byte) (string, error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create download dir: %w", err)
	}
	name := SanitizeName(meta.FileName)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	for i := 0; i < maxRenames; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s (%d)%s", stem, i, ext)
		}
		path := filepath.Join(s.Dir, candidate)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", err
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			os.Remove(path)
			return "", fmt.Errorf("write %s: %w", candidate, err)
		}
		if err := f.Close(); err != nil {
			os.Remove(path)
			return "", fmt.Errorf("close %s: %w", candidate, err)
		}
		return path, nil
	}
	return "", fmt.Errorf("no free name for %q in %s", name, s.Dir)
}

// SanitizeName reduces a peer-supplied file name to a single safe path
// element.
func SanitizeName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f || strings.ContainsRune(`<>:"|?*`, r) {
			return '_'
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	name = strings.TrimLeft(name, ".")
	if name == "" || name == "/" {
		return fallbackName
	}
	return name
}
