package export

import (
	"bytes"
	"testing"
	"time"

	"labbooking/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func reservation(t *testing.T, id, lastName, scheduled string) *models.Reservation {
	t.Helper()
	r, err := models.FromRecord(models.Record{
		ID:          id,
		FirstName:   "Mario",
		LastName:    lastName,
		Email:       "mario@example.it",
		InsertedAt:  "2098-12-20 10:15:00",
		ScheduledAt: scheduled,
		FiscalCode:  "RSSMRA85T10A562S",
		HealthCard:  "80380000101234567890",
		Lab:         "Centrale",
		Exams:       []string{"EMO", "GLI"},
	})
	require.NoError(t, err)
	return r
}

func TestWriteReservations(t *testing.T) {
	list := []*models.Reservation{
		reservation(t, "0192f0c8-0001-7000-8000-000000000000", "Rossi", "2099-01-05 09:00:00"),
		reservation(t, "0192f0c8-0002-7000-8000-000000000000", "Bianchi", "2099-01-05 11:30:00"),
		reservation(t, "0192f0c8-0003-7000-8000-000000000000", "Verdi", "2099-01-07 15:00:00"),
	}
	filter := models.ExportFilter{
		Lab:  "Centrale",
		From: time.Date(2099, 1, 1, 0, 0, 0, 0, time.Local),
		To:   time.Date(2099, 2, 1, 0, 0, 0, 0, time.Local),
	}

	var buf bytes.Buffer
	require.NoError(t, WriteReservations(&buf, filter, list))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{SheetReservations, SheetDaily}, f.GetSheetList())

	rows, err := f.GetRows(SheetReservations)
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Contains(t, rows[0][0], "Centrale")
	assert.Contains(t, rows[0][0], "01/01/2099")
	assert.Equal(t, headers, rows[1])
	assert.Equal(t, "0192f0c8-0001-7000-8000-000000000000", rows[2][0])
	assert.Equal(t, "Rossi", rows[2][1])
	assert.Equal(t, "05/01/2099 09:00", rows[2][7])
	assert.Equal(t, "EMO, GLI", rows[2][8])
	assert.Equal(t, "20/12/2098 10:15", rows[2][9])
	assert.Equal(t, "Verdi", rows[4][1])

	daily, err := f.GetRows(SheetDaily)
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"Data", "Prenotazioni"},
		{"05/01/2099", "2"},
		{"07/01/2099", "1"},
	}, daily)
}

func TestWriteReservations_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteReservations(&buf, models.ExportFilter{}, nil))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(SheetReservations)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Contains(t, rows[0][0], "tutti i laboratori")
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "prenotazioni_tutti.xlsx", FileName(models.ExportFilter{}))
	assert.Equal(t,
		"prenotazioni_lab_nord_dal_2099-01-01_al_2099-02-01.xlsx",
		FileName(models.ExportFilter{
			Lab:  "Lab Nord",
			From: time.Date(2099, 1, 1, 0, 0, 0, 0, time.Local),
			To:   time.Date(2099, 2, 1, 0, 0, 0, 0, time.Local),
		}))
}
