package artifacts

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotelfiscal/internal/core/apperror"
	"hotelfiscal/internal/domain/fiscal"
)

const sampleKey = "26260212345678000199650010000000421000000420"

const sampleXML = `<?xml version="1.0" encoding="UTF-8"?>
<nfeProc xmlns="http://www.portalfiscal.inf.br/nfe" versao="4.00">
  <NFe><infNFe Id="NFe` + sampleKey + `" versao="4.00"><ide><nNF>42</nNF></ide></infNFe></NFe>
  <protNFe><infProt><chNFe>` + sampleKey + `</chNFe><cStat>100</cStat></infProt></protNFe>
</nfeProc>`

func TestSaveXML_LayoutAndAlias(t *testing.T) {
	root := t.TempDir()
	s := New(root)
	at := time.Date(2026, 2, 14, 23, 30, 0, 0, fiscal.Location)

	rel, key, err := s.SaveXML("nfc_1", at, []byte(sampleXML))
	require.NoError(t, err)
	assert.Equal(t, "fiscal/xmls/emitted/2026/02/nfc_1.xml", rel)
	assert.Equal(t, sampleKey, key)

	assert.FileExists(t, filepath.Join(root, "fiscal/xmls/emitted/2026/02/"+sampleKey+".xml"))
	assert.True(t, s.Exists(rel))

	f, err := s.Open(rel)
	require.NoError(t, err)
	defer f.Close()
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, sampleXML, string(data))
}

func TestSaveXML_UsesLocalMonth(t *testing.T) {
	s := New(t.TempDir())
	// 01:00 UTC on March 1st is still February in -03:00.
	at := time.Date(2026, 3, 1, 1, 0, 0, 0, time.UTC)

	rel, _, err := s.SaveXML("nfc_2", at, []byte("<x/>"))
	require.NoError(t, err)
	assert.Equal(t, "fiscal/xmls/emitted/2026/02/nfc_2.xml", rel)
}

func TestSavePDF(t *testing.T) {
	s := New(t.TempDir())
	rel, err := s.SavePDF("nfc_1", time.Date(2026, 2, 1, 12, 0, 0, 0, fiscal.Location), []byte("%PDF"))
	require.NoError(t, err)
	assert.Equal(t, "fiscal/pdfs/emitted/2026/02/nfc_1.pdf", rel)
}

func TestRejectsTraversal(t *testing.T) {
	s := New(t.TempDir())

	_, _, err := s.SaveXML("../evil", time.Now(), []byte("x"))
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))

	_, err = s.Open("../../etc/passwd")
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))
}

func TestOpenMissing(t *testing.T) {
	s := New(t.TempDir())
	_, err := s.Open("fiscal/xmls/emitted/2026/02/none.xml")
	assert.True(t, apperror.IsNotFound(err))
	assert.False(t, s.Exists(""))
}

func TestAccessKey(t *testing.T) {
	assert.Equal(t, sampleKey, AccessKey([]byte(sampleXML)))
	assert.Equal(t, sampleKey, AccessKey([]byte(`<NFe><infNFe Id="NFe`+sampleKey+`"/></NFe>`)))
	assert.Empty(t, AccessKey([]byte(`<nfse><numero>1</numero></nfse>`)))
	assert.Empty(t, AccessKey([]byte(`not xml`)))
}

func TestWriteIsAtomic(t *testing.T) {
	root := t.TempDir()
	s := New(root)
	at := time.Date(2026, 2, 1, 12, 0, 0, 0, fiscal.Location)
	_, err := s.SavePDF("nfc_1", at, []byte("one"))
	require.NoError(t, err)
	_, err = s.SavePDF("nfc_1", at, []byte("two"))
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(root, "fiscal/pdfs/emitted/2026/02"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
