package api

import (
	"net/http"
)

// ListIDCards handles GET /api/students/idcards
func (h *Handler) ListIDCards(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	lists := h.loadLists(ctx, h.Paths.Students, h.Paths.IDCards)
	students, cards := lists[0], lists[1]

	f, err := freshness(lists...)
	if err == nil {
		err = mustHave(students)
	}
	if err != nil {
		h.writeFailure(w, "failed to load id cards", err)
		return
	}

	report := h.Board.Build(students.Value, cards.Value, h.Now())
	if cards.fresh() {
		h.saveRun(ctx, report.Run(h.Now()))
	}

	resp := IDCardReportResponse{
		Freshness:  f,
		Students:   make([]IDCardDTO, 0, len(report.Rows)),
		Counts:     report.Counts,
		Active:     report.Active(),
		Unresolved: toUnresolvedDTOs(report.Unresolved),
		Summary:    report.Summary,
	}
	for _, row := range report.Rows {
		resp.Students = append(resp.Students, toIDCardDTO(row))
	}
	writeJSON(w, http.StatusOK, resp)
}
