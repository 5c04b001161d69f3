package api

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"medrelay/internal/constants"
	"medrelay/internal/models"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// exportModeration отдаёт все записи модерации в виде Excel-файла.
func (s *server) exportModeration(w http.ResponseWriter, r *http.Request) {
	records, err := s.deps.Moderation.List(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("exportModeration: ошибка получения записей модерации")
		writeJSONError(w, http.StatusInternalServerError, "Failed to list moderation records")
		return
	}
	buf, err := moderationWorkbook(records, time.Now().UTC())
	if err != nil {
		s.log.Error().Err(err).Msg("exportModeration: ошибка формирования Excel")
		writeJSONError(w, http.StatusInternalServerError, "Failed to build export")
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="moderation-%s.xlsx"`, uuid.NewString()))
	w.Write(buf.Bytes())
}

// moderationWorkbook строит лист "Модерация": одна строка на пользователя.
func moderationWorkbook(records []models.ModerationRecord, now time.Time) (*bytes.Buffer, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Модерация"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, err
	}
	f.DeleteSheet("Sheet1") // Удаляем стандартный лист
	f.SetActiveSheet(index)

	headers := []string{"ID пользователя", "Заблокирован", "Дата блокировки (UTC)", "Мьют до (UTC)", "Мьют активен"}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheetName, cell, header)
	}

	for i, rec := range records {
		row := i + 2
		st := rec.Status(now)
		f.SetCellValue(sheetName, fmt.Sprintf("A%d", row), rec.UserID)
		f.SetCellValue(sheetName, fmt.Sprintf("B%d", row), yesNo(rec.IsBanned))
		if !rec.BannedAt.IsZero() {
			f.SetCellValue(sheetName, fmt.Sprintf("C%d", row), rec.BannedAt.UTC().Format(constants.TIME_LAYOUT_STATUS))
		}
		if !rec.MutedUntil.IsZero() {
			f.SetCellValue(sheetName, fmt.Sprintf("D%d", row), rec.MutedUntil.UTC().Format(constants.TIME_LAYOUT_STATUS))
		}
		f.SetCellValue(sheetName, fmt.Sprintf("E%d", row), yesNo(st.Muted))
	}

	return f.WriteToBuffer()
}

func yesNo(v bool) string {
	if v {
		return "да"
	}
	return "нет"
}
