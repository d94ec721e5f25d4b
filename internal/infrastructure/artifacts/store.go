// Package artifacts stores authorized fiscal XMLs and PDFs on disk.
package artifacts

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"hotelfiscal/internal/core/apperror"
	"hotelfiscal/internal/domain/fiscal"
)

// Store lays artifacts out as
//
//	fiscal/xmls/emitted/<YYYY>/<MM>/<doc_id>.xml
//	fiscal/pdfs/emitted/<YYYY>/<MM>/<doc_id>.pdf
//
// under Root. Returned paths are relative to Root.
type Store struct {
	Root string
}

// New creates a Store rooted at root.
func New(root string) *Store {
	return &Store{Root: root}
}

// RelPath returns the relative location of an artifact.
func RelPath(kind fiscal.ArtifactKind, at time.Time, name string) string {
	at = at.In(fiscal.Location)
	return filepath.ToSlash(filepath.Join(
		"fiscal", string(kind)+"s", "emitted",
		fmt.Sprintf("%04d", at.Year()), fmt.Sprintf("%02d", int(at.Month())),
		name+"."+string(kind),
	))
}

// SaveXML writes the document XML and, when the access key can be read from
// it, an alias named after the key. It returns the primary relative path and the key.
func (s *Store) SaveXML(docID string, at time.Time, data []byte) (string, string, error) {
	if err := validName(docID); err != nil {
		return "", "", err
	}
	rel := RelPath(fiscal.ArtifactXML, at, docID)
	if err := s.write(rel, data); err != nil {
		return "", "", err
	}

	key := AccessKey(data)
	if key != "" && key != docID {
		alias := RelPath(fiscal.ArtifactXML, at, key)
		if err := s.write(alias, data); err != nil {
			return "", "", err
		}
	}
	return rel, key, nil
}

// SavePDF writes the document PDF and returns its relative path.
func (s *Store) SavePDF(docID string, at time.Time, data []byte) (string, error) {
	if err := validName(docID); err != nil {
		return "", err
	}
	rel := RelPath(fiscal.ArtifactPDF, at, docID)
	if err := s.write(rel, data); err != nil {
		return "", err
	}
	return rel, nil
}

// Open returns the artifact at a relative path.
func (s *Store) Open(rel string) (io.ReadSeekCloser, error) {
	abs, err := s.abs(rel)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(abs)
	if errors.Is(err, os.ErrNotExist) {
		return nil, apperror.NewNotFound("artifact", rel)
	}
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("open artifact: %w", err))
	}
	return f, nil
}

// Exists reports whether the artifact at rel is on disk and non-empty.
func (s *Store) Exists(rel string) bool {
	if rel == "" {
		return false
	}
	abs, err := s.abs(rel)
	if err != nil {
		return false
	}
	fi, err := os.Stat(abs)
	return err == nil && fi.Size() > 0
}

func (s *Store) abs(rel string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(rel))
	if filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return "", apperror.NewValidation("invalid artifact path").WithDetail("path", rel)
	}
	return filepath.Join(s.Root, clean), nil
}

func (s *Store) write(rel string, data []byte) error {
	abs, err := s.abs(rel)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperror.NewInternal(fmt.Errorf("create artifact dir: %w", err))
	}
	tmp, err := os.CreateTemp(dir, ".artifact-*")
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("create artifact: %w", err))
	}
	if _, err := tmp.Write(data); err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp.Name(), abs)
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return apperror.NewInternal(fmt.Errorf("write artifact %s: %w", rel, err))
	}
	return nil
}

func validName(docID string) error {
	if docID == "" || strings.ContainsAny(docID, `/\`) || strings.Contains(docID, "..") {
		return apperror.NewValidation("invalid document id").WithDetail("doc_id", docID)
	}
	return nil
}

// AccessKey extracts the 44-digit access key from an NFC-e or NFS-e XML.
// It returns "" when none is found.
func AccessKey(data []byte) string {
	dec := xml.NewDecoder(bytes.NewReader(data))
	var inKey bool
	for {
		tok, err := dec.Token()
		if err != nil {
			return ""
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "chNFe", "chNFSe", "chaveAcesso":
				inKey = true
			case "infNFe", "infNFSe":
				for _, a := range t.Attr {
					if a.Name.Local == "Id" {
						if k := keyDigits(a.Value); k != "" {
							return k
						}
					}
				}
			}
		case xml.CharData:
			if inKey {
				if k := keyDigits(string(t)); k != "" {
					return k
				}
			}
		case xml.EndElement:
			inKey = false
		}
	}
}

func keyDigits(s string) string {
	d := fiscal.Digits(s)
	if len(d) == 44 || len(d) == 50 {
		return d
	}
	return ""
}
