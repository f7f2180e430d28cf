package npm

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// maxFileSize caps a single extracted file. Registry tarballs are
// source archives; anything larger is corrupt or hostile.
const maxFileSize = 64 << 20

// extractTarball unpacks a gzipped npm tarball into relative path ->
// content. The leading path component (conventionally "package/") is
// stripped regardless of its actual name, since some publishers use the
// package name instead.
func extractTarball(data []byte) (map[string][]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	defer gz.Close()

	files := make(map[string][]byte)
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("tar: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		name := stripFirstComponent(hdr.Name)
		if name == "" || strings.Contains(name, "..") {
			continue
		}
		if hdr.Size > maxFileSize {
			return nil, fmt.Errorf("tar: %s exceeds size limit", name)
		}
		content, err := io.ReadAll(io.LimitReader(tr, maxFileSize+1))
		if err != nil {
			return nil, fmt.Errorf("tar: read %s: %w", name, err)
		}
		files[name] = content
	}
	return files, nil
}

func stripFirstComponent(name string) string {
	name = strings.TrimPrefix(name, "./")
	idx := strings.Index(name, "/")
	if idx < 0 {
		return ""
	}
	return name[idx+1:]
}
