package export

import (
	"fmt"
	"io"
	"strings"
	"time"

	"labbooking/internal/models"

	"github.com/xuri/excelize/v2"
)

const (
	SheetReservations = "Prenotazioni"
	SheetDaily        = "Per giorno"

	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

	displayDate     = "02/01/2006"
	displayDateTime = "02/01/2006 15:04"
)

var headers = []string{
	"ID", "Cognome", "Nome", "Email", "Codice fiscale", "Tessera sanitaria",
	"Laboratorio", "Data prenotazione", "Esami", "Inserita", "Modificata",
}

// FileName names the export of filter.
func FileName(filter models.ExportFilter) string {
	lab := "tutti"
	if filter.Lab != "" {
		lab = strings.ToLower(strings.ReplaceAll(strings.TrimSpace(filter.Lab), " ", "_"))
	}
	name := "prenotazioni_" + lab
	if !filter.From.IsZero() {
		name += "_dal_" + filter.From.Format(models.DateLayout)
	}
	if !filter.To.IsZero() {
		name += "_al_" + filter.To.Format(models.DateLayout)
	}
	return name + ".xlsx"
}

// WriteReservations renders list as an XLSX workbook into w. The list is
// written in the given order.
func WriteReservations(w io.Writer, filter models.ExportFilter, list []*models.Reservation) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(SheetReservations)
	if err != nil {
		return fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)

	_ = f.SetCellValue(SheetReservations, "A1", periodTitle(filter))
	lastCol, _ := excelize.ColumnNumberToName(len(headers))
	_ = f.MergeCell(SheetReservations, "A1", lastCol+"1")
	titleStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	_ = f.SetCellStyle(SheetReservations, "A1", "A1", titleStyle)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 2)
		_ = f.SetCellValue(SheetReservations, cell, header)
		_ = f.SetCellStyle(SheetReservations, cell, cell, headerStyle)
	}

	for i, r := range list {
		row := make([]interface{}, 0, len(headers))
		row = append(row,
			r.ID(),
			r.LastName(),
			r.FirstName(),
			r.Email(),
			r.FiscalCode(),
			r.HealthCard(),
			r.Lab(),
			r.ScheduledAt().Format(displayDateTime),
			strings.Join(r.Exams(), ", "),
			formatTime(r.InsertedAt()),
			formatTime(r.ModifiedAt()),
		)
		cell, _ := excelize.CoordinatesToCellName(1, i+3)
		if err := f.SetSheetRow(SheetReservations, cell, &row); err != nil {
			return fmt.Errorf("error writing row %d: %w", i+3, err)
		}
	}

	_ = f.SetColWidth(SheetReservations, "A", "A", 38)
	_ = f.SetColWidth(SheetReservations, "B", "D", 22)
	_ = f.SetColWidth(SheetReservations, "E", "F", 24)
	_ = f.SetColWidth(SheetReservations, "G", "H", 18)
	_ = f.SetColWidth(SheetReservations, "I", "I", 30)
	_ = f.SetColWidth(SheetReservations, "J", "K", 18)

	if err := writeDaily(f, list); err != nil {
		return err
	}

	_ = f.DeleteSheet("Sheet1")

	if err := f.Write(w); err != nil {
		return fmt.Errorf("error writing workbook: %w", err)
	}
	return nil
}

// writeDaily adds one row per booked day with its reservation count.
func writeDaily(f *excelize.File, list []*models.Reservation) error {
	if _, err := f.NewSheet(SheetDaily); err != nil {
		return fmt.Errorf("error creating sheet: %w", err)
	}
	_ = f.SetSheetRow(SheetDaily, "A1", &[]interface{}{"Data", "Prenotazioni"})

	var days []string
	counts := make(map[string]int)
	for _, r := range list {
		day := r.ScheduledAt().Format(displayDate)
		if _, seen := counts[day]; !seen {
			days = append(days, day)
		}
		counts[day]++
	}

	for i, day := range days {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(SheetDaily, cell, &[]interface{}{day, counts[day]}); err != nil {
			return err
		}
	}
	_ = f.SetColWidth(SheetDaily, "A", "B", 16)
	return nil
}

func periodTitle(filter models.ExportFilter) string {
	lab := filter.Lab
	if lab == "" {
		lab = "tutti i laboratori"
	}
	from, to := "-", "-"
	if !filter.From.IsZero() {
		from = filter.From.Format(displayDate)
	}
	if !filter.To.IsZero() {
		to = filter.To.Format(displayDate)
	}
	return fmt.Sprintf("Laboratorio: %s  Periodo: %s - %s", lab, from, to)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(displayDateTime)
}
