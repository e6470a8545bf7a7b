package models

const (
	// TimeLayout is the wire and on-disk format of every reservation timestamp.
	TimeLayout = "2006-01-02 15:04:05"

	// DateLayout is used by export filters.
	DateLayout = "2006-01-02"
)

// Record field names.
const (
	FieldID          = "id"
	FieldFirstName   = "nome"
	FieldLastName    = "cognome"
	FieldEmail       = "email"
	FieldInsertedAt  = "dataOraInserimento"
	FieldModifiedAt  = "dataOraModifica"
	FieldScheduledAt = "dataOraPrenotazione"
	FieldFiscalCode  = "cf"
	FieldHealthCard  = "ts"
	FieldLab         = "laboratorio"
	FieldExams       = "listaEsami"
)

const (
	FiscalCodeLength = 16
	HealthCardLength = 20

	// OfficeOpenHour and OfficeCloseHour bound the bookable hours, both inclusive.
	OfficeOpenHour  = 8
	OfficeCloseHour = 18
)

// Health card layout: type "80", country "380", ente prefix "00",
// three-digit region code, ten-digit serial.
const (
	HealthCardType    = "80"
	HealthCardCountry = "380"
	HealthCardEnte    = "00"
)

// RegionCodes lists the valid ente codes: the regions plus the three
// special codes of SASN Genova, SASN Napoli and AIRE.
var RegionCodes = map[string]struct{}{
	"010": {}, "020": {}, "030": {}, "041": {}, "042": {}, "050": {},
	"060": {}, "070": {}, "080": {}, "090": {}, "100": {}, "110": {},
	"120": {}, "130": {}, "140": {}, "150": {}, "160": {}, "170": {},
	"180": {}, "190": {}, "200": {},
	"001": {}, "002": {}, "003": {},
}
