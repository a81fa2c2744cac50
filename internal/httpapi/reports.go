package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"shopledger/backend/internal/service"
	"shopledger/backend/internal/window"
)

// parseWindow reads window=&start=&end= from the query string. A missing
// window means today.
func parseWindow(r *http.Request) (window.Window, error) {
	q := r.URL.Query()
	return window.Parse(q.Get("window"), q.Get("start"), q.Get("end"))
}

func (a *API) resolveWindow(r *http.Request) (window.Range, error) {
	w, err := parseWindow(r)
	if err != nil {
		return window.Range{}, err
	}
	return a.service.Resolve(w)
}

func (a *API) handleSalesReport(w http.ResponseWriter, r *http.Request) {
	win, err := parseWindow(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	report, err := a.service.SalesReport(r.Context(), win, service.ReportOptions{
		BrandLimit:   parseLimit(q.Get("brand_limit"), a.brandLimit),
		HistoryLimit: parseLimit(q.Get("history_limit"), a.historyLimit),
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}

	filename := fmt.Sprintf("sales-%s-%s", report.Window, report.From.Format("20060102"))
	switch strings.ToLower(strings.TrimSpace(q.Get("format"))) {
	case "csv":
		body, err := salesReportToCSV(report)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename+".csv"))
		_, _ = w.Write(body)
	case "xlsx":
		body, err := salesReportToXLSX(report)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename+".xlsx"))
		_, _ = w.Write(body)
	default:
		writeJSON(w, http.StatusOK, report)
	}
}

func (a *API) handleBrandRevenue(w http.ResponseWriter, r *http.Request) {
	rng, err := a.resolveWindow(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	total, brands, err := a.service.BrandBreakdown(r.Context(), rng, parseLimit(r.URL.Query().Get("limit"), a.brandLimit))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"from":          rng.From,
		"to":            rng.To,
		"revenue_total": total,
		"brands":        brands,
	})
}

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	rng, err := a.resolveWindow(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	rows, err := a.service.TransactionHistory(r.Context(), rng, parseLimit(r.URL.Query().Get("limit"), a.historyLimit))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"from": rng.From, "to": rng.To, "history": rows})
}

func (a *API) handleTransactions(w http.ResponseWriter, r *http.Request) {
	rng, err := a.resolveWindow(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	txs, err := a.service.ListTransactions(r.Context(), rng, parseLimit(r.URL.Query().Get("limit"), a.historyLimit))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"from": rng.From, "to": rng.To, "transactions": txs})
}

func (a *API) handleSupplierRevenue(w http.ResponseWriter, r *http.Request) {
	rng, err := a.resolveWindow(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	suppliers, err := a.service.SupplierRevenue(r.Context(), rng)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"from": rng.From, "to": rng.To, "suppliers": suppliers})
}

func (a *API) handleSalesChart(w http.ResponseWriter, r *http.Request) {
	rng, err := a.resolveWindow(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	rows, err := a.service.SalesChart(r.Context(), rng)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"from": rng.From, "to": rng.To, "chart": rows})
}

func (a *API) handleDailyRevenue(w http.ResponseWriter, r *http.Request) {
	win, err := parseWindow(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	days, err := a.service.DailyRevenue(r.Context(), win)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"days": days})
}
