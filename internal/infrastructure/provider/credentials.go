package provider

import (
	"strconv"

	"hotelfiscal/internal/domain/integration"
)

// CredentialsFor extracts the provider credentials of an emitter.
func CredentialsFor(s *integration.Settings) Credentials {
	return Credentials{
		ClientID:     s.ClientID,
		ClientSecret: s.ClientSecret,
		Production:   s.Production(),
	}
}

// CompanySettingsFor builds the company NFC-e settings pushed by SyncCompanyNFCe.
func CompanySettingsFor(s *integration.Settings) CompanyNFCeSettings {
	out := CompanyNFCeSettings{
		Ambiente: "homologacao",
		CRT:      s.CRT,
	}
	if s.SefazProduction() {
		out.Ambiente = "producao"
	}
	if s.CSCToken != "" {
		id, _ := strconv.Atoi(s.CSCID)
		out.Sefaz = &SefazCSC{IDCSC: id, CSC: s.CSCToken}
	}
	return out
}
