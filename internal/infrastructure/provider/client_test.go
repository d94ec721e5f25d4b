package provider

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotelfiscal/internal/core/apperror"
	"hotelfiscal/internal/domain/integration"
	"hotelfiscal/pkg/logger"
)

type fakeProvider struct {
	srv         *httptest.Server
	tokenCalls  atomic.Int32
	submitCalls atomic.Int32
	xmlCalls    atomic.Int32
	mux         *http.ServeMux
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	fp := &fakeProvider{mux: http.NewServeMux()}
	fp.mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		fp.tokenCalls.Add(1)
		require.NoError(t, r.ParseForm())
		if r.PostForm.Get("client_secret") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-` + r.PostForm.Get("scope") + `","token_type":"Bearer","expires_in":3600}`))
	})
	fp.srv = httptest.NewServer(fp.mux)
	t.Cleanup(fp.srv.Close)
	return fp
}

func (fp *fakeProvider) client() *Client {
	return New(Config{
		AuthURL:      fp.srv.URL + "/oauth/token",
		BaseURL:      fp.srv.URL,
		SandboxURL:   fp.srv.URL,
		PollAttempts: 3,
		PollInterval: time.Millisecond,
	}, logger.Nop())
}

var testCreds = Credentials{ClientID: "client", ClientSecret: "secret"}

func TestSubmitNFCe_Authorized(t *testing.T) {
	fp := newFakeProvider(t)
	fp.mux.HandleFunc("/nfce", func(w http.ResponseWriter, r *http.Request) {
		fp.submitCalls.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer tok-nfce", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "homologacao", body["ambiente"])

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"nfc_1","status":"autorizado","serie":"1","numero":42,"chave":"26260112345678000199650010000000421000000420"}`))
	})

	c := fp.client()
	res, err := c.SubmitNFCe(t.Context(), testCreds, map[string]string{"ambiente": "homologacao"})
	require.NoError(t, err)
	assert.True(t, res.Authorized())
	assert.Equal(t, "nfc_1", res.ID)
	assert.Equal(t, 1, res.Serie)
	assert.Equal(t, int64(42), res.Number)
	assert.Len(t, res.AccessKey, 44)

	// Second call reuses the cached token.
	_, err = c.SubmitNFCe(t.Context(), testCreds, map[string]string{"ambiente": "homologacao"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), fp.tokenCalls.Load())
	assert.Equal(t, int32(2), fp.submitCalls.Load())
}

func TestSubmitNFCe_AccessKeyWithoutAuthorizationIsRejection(t *testing.T) {
	fp := newFakeProvider(t)
	fp.mux.HandleFunc("/nfce", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"nfc_2","status":"rejeitado","chave":"2626...","autorizacao":{"status":"rejeitado","motivo_status":"Rejeicao: CFOP incompativel"}}`))
	})

	res, err := fp.client().SubmitNFCe(t.Context(), testCreds, struct{}{})
	require.Error(t, err)
	require.NotNil(t, res)
	assert.False(t, res.Authorized())
	assert.True(t, apperror.HasCode(err, apperror.CodeProviderRejection))
	assert.False(t, apperror.IsTransient(err))
	assert.Contains(t, apperror.Describe(err), "CFOP incompativel")
}

func TestSubmitNFCe_NestedAuthorizationStatus(t *testing.T) {
	fp := newFakeProvider(t)
	fp.mux.HandleFunc("/nfce", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"nfc_3","status":"processando","numero_sequencial":"7","autorizacao":{"status":"Autorizada","chave_acesso":"k"}}`))
	})

	res, err := fp.client().SubmitNFCe(t.Context(), testCreds, struct{}{})
	require.NoError(t, err)
	assert.Equal(t, int64(7), res.Number)
	assert.Equal(t, "k", res.AccessKey)
}

func TestSubmit_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		code      string
		transient bool
	}{
		{"validation", http.StatusBadRequest, `{"error":{"message":"Payload invalido","errors":[{"code":"E1","message":"ncm invalido"}]}}`, apperror.CodeProviderRejection, false},
		{"forbidden", http.StatusForbidden, `{}`, apperror.CodeProviderAuth, true},
		{"rate limited", http.StatusTooManyRequests, `{}`, apperror.CodeRateLimited, true},
		{"server error", http.StatusBadGateway, `bad gateway`, apperror.CodeTransport, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fp := newFakeProvider(t)
			fp.mux.HandleFunc("/nfce", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := fp.client().SubmitNFCe(t.Context(), testCreds, struct{}{})
			require.Error(t, err)
			assert.True(t, apperror.HasCode(err, tt.code), "got %v", err)
			assert.Equal(t, tt.transient, apperror.IsTransient(err))
		})
	}
}

func TestClassify_TruncatesProviderErrors(t *testing.T) {
	body := `{"error":{"message":"x","errors":[` +
		`{"message":"a"},{"message":"b"},{"message":"c"},{"message":"d"},{"message":"e"},{"message":"f"}]}}`
	err := classify(&response{status: http.StatusBadRequest, body: []byte(body), header: http.Header{}})

	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Len(t, appErr.Details["errors"], maxProviderErrors)
}

func TestAuthenticate_BadCredentials(t *testing.T) {
	fp := newFakeProvider(t)

	_, err := fp.client().Authenticate(t.Context(), Credentials{ClientID: "client", ClientSecret: "wrong"}, ScopeNFCe)
	require.Error(t, err)
	assert.True(t, apperror.HasCode(err, apperror.CodeProviderAuth))
}

func TestAuthenticate_MissingCredentials(t *testing.T) {
	fp := newFakeProvider(t)

	_, err := fp.client().Authenticate(t.Context(), Credentials{}, ScopeNFCe)
	assert.True(t, apperror.HasCode(err, apperror.CodeConfigIncomplete))
	assert.Zero(t, fp.tokenCalls.Load())
}

func TestAuthenticate_TokensCachedPerScope(t *testing.T) {
	fp := newFakeProvider(t)
	c := fp.client()

	a, err := c.Authenticate(t.Context(), testCreds, ScopeNFCe)
	require.NoError(t, err)
	b, err := c.Authenticate(t.Context(), testCreds, ScopeNFSe)
	require.NoError(t, err)
	_, err = c.Authenticate(t.Context(), testCreds, ScopeNFCe)
	require.NoError(t, err)

	assert.Equal(t, "tok-nfce", a.AccessToken)
	assert.Equal(t, "tok-nfse", b.AccessToken)
	assert.Equal(t, int32(2), fp.tokenCalls.Load())
}

func TestUnauthorizedDropsCachedToken(t *testing.T) {
	fp := newFakeProvider(t)
	var calls atomic.Int32
	fp.mux.HandleFunc("/nfce", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"id":"nfc_1","status":"autorizada","numero":1}`))
	})
	c := fp.client()

	_, err := c.SubmitNFCe(t.Context(), testCreds, struct{}{})
	assert.True(t, apperror.HasCode(err, apperror.CodeProviderAuth))

	_, err = c.SubmitNFCe(t.Context(), testCreds, struct{}{})
	require.NoError(t, err)
	assert.Equal(t, int32(2), fp.tokenCalls.Load())
}

func TestFetchXML_PollsUntilReady(t *testing.T) {
	fp := newFakeProvider(t)
	fp.mux.HandleFunc("/nfce/nfc_1/xml", func(w http.ResponseWriter, r *http.Request) {
		if fp.xmlCalls.Add(1) < 3 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`<nfeProc/>`))
	})

	xml, err := fp.client().FetchXML(t.Context(), testCreds, KindNFCe, "nfc_1")
	require.NoError(t, err)
	assert.Equal(t, "<nfeProc/>", string(xml))
	assert.Equal(t, int32(3), fp.xmlCalls.Load())
}

func TestFetchXML_ExhaustsAttempts(t *testing.T) {
	fp := newFakeProvider(t)
	fp.mux.HandleFunc("/nfce/nfc_1/xml", func(w http.ResponseWriter, r *http.Request) {
		fp.xmlCalls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := fp.client().FetchXML(t.Context(), testCreds, KindNFCe, "nfc_1")
	require.Error(t, err)
	assert.True(t, apperror.HasCode(err, apperror.CodeArtifactUnavailable))
	assert.True(t, apperror.IsTransient(err))
	assert.Equal(t, int32(3), fp.xmlCalls.Load())
}

func TestFetchPDF_NFSePath(t *testing.T) {
	fp := newFakeProvider(t)
	fp.mux.HandleFunc("/nfse/dps_1/pdf", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-nfse", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte("%PDF-1.4"))
	})

	pdf, err := fp.client().FetchPDF(t.Context(), testCreds, KindNFSe, "dps_1")
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4", string(pdf))
}

func TestSyncCompanyNFCe(t *testing.T) {
	fp := newFakeProvider(t)
	fp.mux.HandleFunc("/empresas/12345678000199/nfce", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		var body CompanyNFCeSettings
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "producao", body.Ambiente)
		assert.Equal(t, 1, body.CRT)
		require.NotNil(t, body.Sefaz)
		assert.Equal(t, 2, body.Sefaz.IDCSC)
		w.WriteHeader(http.StatusCreated)
	})

	s := &integration.Settings{CRT: 1, SefazEnvironment: integration.EnvProduction, CSCID: "000002", CSCToken: "csc"}
	err := fp.client().SyncCompanyNFCe(t.Context(), testCreds, "12345678000199", CompanySettingsFor(s))
	require.NoError(t, err)
}
