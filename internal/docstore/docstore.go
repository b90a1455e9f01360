// Package docstore manages the on-disk side of a document: the raw upload
// and its extracted text, keyed by the generated document id. There is no
// transactional link to the database row; a crash between the file write and
// the row insert can leave an orphan on either side.
package docstore

import (
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

// Dirs holds the two storage directories.
type Dirs struct {
	uploads   string
	extracted string
}

// New creates the storage directories if they do not exist.
func New(uploadDir, extractedDir string) (*Dirs, error) {
	for _, dir := range []string{uploadDir, extractedDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, eris.Wrapf(err, "docstore: create dir %s", dir)
		}
	}
	return &Dirs{uploads: uploadDir, extracted: extractedDir}, nil
}

// SaveUpload streams an uploaded file to disk under the document id and
// returns its path.
func (d *Dirs) SaveUpload(docID, ext string, r io.Reader) (string, error) {
	path := filepath.Join(d.uploads, docID+ext)
	f, err := os.Create(path)
	if err != nil {
		return "", eris.Wrapf(err, "docstore: create upload %s", path)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		os.Remove(path)
		return "", eris.Wrapf(err, "docstore: write upload %s", path)
	}
	return path, nil
}

// SaveExtracted writes the extracted plain text for a document.
func (d *Dirs) SaveExtracted(docID, text string) (string, error) {
	path := d.ExtractedPath(docID)
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return "", eris.Wrapf(err, "docstore: write extracted %s", path)
	}
	return path, nil
}

// ReadExtracted loads the extracted text for a document id.
func (d *Dirs) ReadExtracted(docID string) (string, error) {
	data, err := os.ReadFile(d.ExtractedPath(docID))
	if err != nil {
		return "", eris.Wrapf(err, "docstore: read extracted %s", docID)
	}
	return string(data), nil
}

// ExtractedPath returns where a document's extracted text lives.
func (d *Dirs) ExtractedPath(docID string) string {
	return filepath.Join(d.extracted, docID+".txt")
}

// RemoveUpload deletes a stored upload, used to clean up after a failed
// extraction so no orphaned file is left behind.
func (d *Dirs) RemoveUpload(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return eris.Wrapf(err, "docstore: remove upload %s", path)
	}
	return nil
}
