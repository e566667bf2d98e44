package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/veritas-qms/veritas-engine/pkg/analytics"
	"github.com/veritas-qms/veritas-engine/pkg/auth"
	"github.com/veritas-qms/veritas-engine/pkg/models"
	"github.com/veritas-qms/veritas-engine/pkg/services"
)

// ============================================================================
// Response Types
// ============================================================================

// Statistical results may hold NaN or ±Inf (a zero-variance Cpk, an F ratio
// with no within-group spread). encoding/json rejects those, so every float
// leaving this handler goes through Float and is sent as null.

type summaryResponse struct {
	Count  int   `json:"count"`
	Mean   Float `json:"mean"`
	StdDev Float `json:"std"`
	Min    Float `json:"min"`
	Q1     Float `json:"q1"`
	Median Float `json:"median"`
	Q3     Float `json:"q3"`
	Max    Float `json:"max"`
}

func newSummaryResponse(s models.SummaryStats) summaryResponse {
	return summaryResponse{
		Count:  s.Count,
		Mean:   Float(s.Mean),
		StdDev: Float(s.StdDev),
		Min:    Float(s.Min),
		Q1:     Float(s.Q1),
		Median: Float(s.Median),
		Q3:     Float(s.Q3),
		Max:    Float(s.Max),
	}
}

type normalityResponse struct {
	Sufficient bool   `json:"sufficient"`
	N          int    `json:"n"`
	Statistic  Float  `json:"statistic"`
	PValue     Float  `json:"p_value"`
	Normal     bool   `json:"normal"`
	Conclusion string `json:"conclusion"`
}

// CapabilityResponse is one CQA's capability analysis.
type CapabilityResponse struct {
	CQA         string            `json:"cqa"`
	Limit       models.SpecLimit  `json:"limit"`
	Cpk         Float             `json:"cpk"`
	MeetsTarget bool              `json:"meets_target"`
	Summary     summaryResponse   `json:"summary"`
	Normality   normalityResponse `json:"normality"`
}

func newCapabilityResponse(row services.CapabilityRow) CapabilityResponse {
	return CapabilityResponse{
		CQA:         row.CQA,
		Limit:       row.Limit,
		Cpk:         Float(row.Cpk),
		MeetsTarget: row.MeetsTarget,
		Summary:     newSummaryResponse(row.Summary),
		Normality: normalityResponse{
			Sufficient: row.Normality.Sufficient,
			N:          row.Normality.N,
			Statistic:  Float(row.Normality.Statistic),
			PValue:     Float(row.Normality.PValue),
			Normal:     row.Normality.Normal,
			Conclusion: row.Normality.Conclusion,
		},
	}
}

// ANOVAResponse is a one-way ANOVA result.
type ANOVAResponse struct {
	Sufficient bool   `json:"sufficient"`
	Reason     string `json:"reason,omitempty"`
	Groups     int    `json:"groups"`
	N          int    `json:"n"`
	DFBetween  int    `json:"df_between"`
	DFWithin   int    `json:"df_within"`
	MSBetween  Float  `json:"ms_between"`
	MSWithin   Float  `json:"ms_within"`
	FStatistic Float  `json:"f_statistic"`
	PValue     Float  `json:"p_value"`
}

func newANOVAResponse(r analytics.ANOVAResult) ANOVAResponse {
	return ANOVAResponse{
		Sufficient: r.Sufficient,
		Reason:     r.Reason,
		Groups:     r.Groups,
		N:          r.N,
		DFBetween:  r.DFBetween,
		DFWithin:   r.DFWithin,
		MSBetween:  Float(r.MSBetween),
		MSWithin:   Float(r.MSWithin),
		FStatistic: Float(r.FStatistic),
		PValue:     Float(r.PValue),
	}
}

type tukeyPairResponse struct {
	Group1   string `json:"group1"`
	Group2   string `json:"group2"`
	MeanDiff Float  `json:"meandiff"`
	PAdj     Float  `json:"p_adj"`
	Lower    Float  `json:"lower"`
	Upper    Float  `json:"upper"`
	Reject   bool   `json:"reject"`
}

// TukeyResponse holds every pairwise comparison, or why none were made.
type TukeyResponse struct {
	Skipped bool                `json:"skipped"`
	Reason  string              `json:"reason,omitempty"`
	Alpha   Float               `json:"alpha"`
	QCrit   Float               `json:"q_crit"`
	Pairs   []tukeyPairResponse `json:"pairs"`
}

func newTukeyResponse(r analytics.TukeyResult) TukeyResponse {
	pairs := make([]tukeyPairResponse, 0, len(r.Pairs))
	for _, p := range r.Pairs {
		pairs = append(pairs, tukeyPairResponse{
			Group1:   p.Group1,
			Group2:   p.Group2,
			MeanDiff: Float(p.MeanDiff),
			PAdj:     Float(p.PAdj),
			Lower:    Float(p.Lower),
			Upper:    Float(p.Upper),
			Reject:   p.Reject,
		})
	}
	return TukeyResponse{
		Skipped: r.Skipped,
		Reason:  r.Reason,
		Alpha:   Float(r.Alpha),
		QCrit:   Float(r.QCrit),
		Pairs:   pairs,
	}
}

// GroupComparisonResponse for GET /api/analysis/{dataset}/compare
type GroupComparisonResponse struct {
	ValueColumn string        `json:"value_column"`
	GroupColumn string        `json:"group_column"`
	Groups      []string      `json:"groups"`
	ANOVA       ANOVAResponse `json:"anova"`
	Tukey       TukeyResponse `json:"tukey"`
}

// PoolabilityResponse is the batch poolability test for a stability CQA.
type PoolabilityResponse struct {
	Poolable   bool   `json:"poolable"`
	PValue     Float  `json:"p_value"`
	FStatistic Float  `json:"f_statistic"`
	Heuristic  bool   `json:"heuristic"`
	Lots       int    `json:"lots"`
	N          int    `json:"n"`
	Reason     string `json:"reason"`
}

// TrendResponse is a stability regression judged against its shelf-life limit.
type TrendResponse struct {
	CQA        string            `json:"cqa"`
	Sufficient bool              `json:"sufficient"`
	Reason     string            `json:"reason,omitempty"`
	Lot        string            `json:"lot,omitempty"`
	Pooled     bool              `json:"pooled"`
	N          int               `json:"n"`
	Slope      Float             `json:"slope"`
	Intercept  Float             `json:"intercept"`
	RSquared   Float             `json:"r_squared"`
	PValue     Float             `json:"p_value"`
	StdErr     Float             `json:"std_err"`
	PredX      [2]Float          `json:"pred_x"`
	PredY      [2]Float          `json:"pred_y"`
	Limit      *models.SpecLimit `json:"limit,omitempty"`
	OutOfSpec  bool              `json:"out_of_spec"`
}

func newTrendResponse(r *services.TrendReport) TrendResponse {
	t := r.Trend
	return TrendResponse{
		CQA:        r.CQA,
		Sufficient: t.Sufficient,
		Reason:     t.Reason,
		Lot:        t.Lot,
		Pooled:     t.Pooled,
		N:          t.N,
		Slope:      Float(t.Slope),
		Intercept:  Float(t.Intercept),
		RSquared:   Float(t.RSquared),
		PValue:     Float(t.PValue),
		StdErr:     Float(t.StdErr),
		PredX:      [2]Float{Float(t.PredX[0]), Float(t.PredX[1])},
		PredY:      [2]Float{Float(t.PredY[0]), Float(t.PredY[1])},
		Limit:      r.Limit,
		OutOfSpec:  r.OutOfSpec,
	}
}

type anomalyPointResponse struct {
	Row      int     `json:"row"`
	Features []Float `json:"features"`
	Score    Float   `json:"score"`
	Label    int     `json:"label"`
}

// AnomalyResponse labels every complete row, +1 inlier and -1 anomaly.
type AnomalyResponse struct {
	Sufficient    bool                   `json:"sufficient"`
	Reason        string                 `json:"reason,omitempty"`
	Features      []string               `json:"features"`
	Contamination Float                  `json:"contamination"`
	Threshold     Float                  `json:"threshold"`
	Points        []anomalyPointResponse `json:"points"`
	Anomalies     int                    `json:"anomalies"`
	Excluded      int                    `json:"excluded"`
}

func newAnomalyResponse(r analytics.AnomalyResult) AnomalyResponse {
	points := make([]anomalyPointResponse, 0, len(r.Points))
	for _, p := range r.Points {
		features := make([]Float, len(p.Features))
		for i, f := range p.Features {
			features[i] = Float(f)
		}
		points = append(points, anomalyPointResponse{Row: p.Row, Features: features, Score: Float(p.Score), Label: p.Label})
	}
	return AnomalyResponse{
		Sufficient:    r.Sufficient,
		Reason:        r.Reason,
		Features:      r.Features,
		Contamination: Float(r.Contamination),
		Threshold:     Float(r.Threshold),
		Points:        points,
		Anomalies:     r.Anomalies,
		Excluded:      r.Excluded,
	}
}

// AnomalyRequest for POST /api/analysis/{dataset}/anomalies
// Omitted fields fall back to the configured defaults; an explicit
// contamination of 0 is rejected.
type AnomalyRequest struct {
	Features      []string `json:"features,omitempty"`
	Contamination *float64 `json:"contamination,omitempty"`
}

// ============================================================================
// Handler
// ============================================================================

// AnalysisHandler exposes the statistical engine.
type AnalysisHandler struct {
	analysisService services.AnalysisService
	logger          *zap.Logger
}

// NewAnalysisHandler creates a new analysis handler.
func NewAnalysisHandler(analysisService services.AnalysisService, logger *zap.Logger) *AnalysisHandler {
	return &AnalysisHandler{
		analysisService: analysisService,
		logger:          logger,
	}
}

// RegisterRoutes registers the analysis handler's routes on the given mux.
func (h *AnalysisHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	base := "/api/analysis/{dataset}"

	mux.HandleFunc("GET "+base+"/capability", authMiddleware.RequireUser(h.CapabilitySummary))
	mux.HandleFunc("GET "+base+"/capability/{cqa}", authMiddleware.RequireUser(h.Capability))
	mux.HandleFunc("GET "+base+"/anova", authMiddleware.RequireUser(h.ANOVA))
	mux.HandleFunc("GET "+base+"/tukey", authMiddleware.RequireUser(h.Tukey))
	mux.HandleFunc("GET "+base+"/compare", authMiddleware.RequireUser(h.Compare))
	mux.HandleFunc("GET "+base+"/stability/{cqa}/poolability", authMiddleware.RequireUser(h.Poolability))
	mux.HandleFunc("GET "+base+"/stability/{cqa}/trend", authMiddleware.RequireUser(h.Trend))
	mux.HandleFunc("POST "+base+"/anomalies", authMiddleware.RequireUser(h.Anomalies))
}

// CapabilitySummary handles GET /api/analysis/{dataset}/capability
func (h *AnalysisHandler) CapabilitySummary(w http.ResponseWriter, r *http.Request) {
	dataset, ok := pathValue(w, r, "dataset", h.logger)
	if !ok {
		return
	}
	rows, err := h.analysisService.CapabilitySummary(r.Context(), dataset)
	if err != nil {
		writeServiceError(w, h.logger, "capability summary", err)
		return
	}
	out := make([]CapabilityResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, newCapabilityResponse(row))
	}
	writeOK(w, h.logger, http.StatusOK, out)
}

// Capability handles GET /api/analysis/{dataset}/capability/{cqa}
func (h *AnalysisHandler) Capability(w http.ResponseWriter, r *http.Request) {
	dataset, ok := pathValue(w, r, "dataset", h.logger)
	if !ok {
		return
	}
	cqa, ok := pathValue(w, r, "cqa", h.logger)
	if !ok {
		return
	}
	row, err := h.analysisService.CalculateCpk(r.Context(), dataset, cqa)
	if err != nil {
		writeServiceError(w, h.logger, "capability", err)
		return
	}
	writeOK(w, h.logger, http.StatusOK, newCapabilityResponse(*row))
}

// groupParams reads the required ?value= and ?group= columns.
func (h *AnalysisHandler) groupParams(w http.ResponseWriter, r *http.Request) (dataset, valueCol, groupCol string, ok bool) {
	if dataset, ok = pathValue(w, r, "dataset", h.logger); !ok {
		return
	}
	if valueCol, ok = requiredQuery(w, r, "value", h.logger); !ok {
		return
	}
	groupCol, ok = requiredQuery(w, r, "group", h.logger)
	return
}

// ANOVA handles GET /api/analysis/{dataset}/anova?value=&group=
func (h *AnalysisHandler) ANOVA(w http.ResponseWriter, r *http.Request) {
	dataset, valueCol, groupCol, ok := h.groupParams(w, r)
	if !ok {
		return
	}
	res, err := h.analysisService.PerformANOVA(r.Context(), dataset, valueCol, groupCol)
	if err != nil {
		writeServiceError(w, h.logger, "anova", err)
		return
	}
	writeOK(w, h.logger, http.StatusOK, newANOVAResponse(res))
}

// Tukey handles GET /api/analysis/{dataset}/tukey?value=&group=
func (h *AnalysisHandler) Tukey(w http.ResponseWriter, r *http.Request) {
	dataset, valueCol, groupCol, ok := h.groupParams(w, r)
	if !ok {
		return
	}
	res, err := h.analysisService.PerformTukey(r.Context(), dataset, valueCol, groupCol)
	if err != nil {
		writeServiceError(w, h.logger, "tukey", err)
		return
	}
	writeOK(w, h.logger, http.StatusOK, newTukeyResponse(res))
}

// Compare handles GET /api/analysis/{dataset}/compare?value=&group=
func (h *AnalysisHandler) Compare(w http.ResponseWriter, r *http.Request) {
	dataset, valueCol, groupCol, ok := h.groupParams(w, r)
	if !ok {
		return
	}
	cmp, err := h.analysisService.CompareGroups(r.Context(), dataset, valueCol, groupCol)
	if err != nil {
		writeServiceError(w, h.logger, "group comparison", err)
		return
	}
	writeOK(w, h.logger, http.StatusOK, GroupComparisonResponse{
		ValueColumn: cmp.ValueColumn,
		GroupColumn: cmp.GroupColumn,
		Groups:      cmp.Groups,
		ANOVA:       newANOVAResponse(cmp.ANOVA),
		Tukey:       newTukeyResponse(cmp.Tukey),
	})
}

// Poolability handles GET /api/analysis/{dataset}/stability/{cqa}/poolability
func (h *AnalysisHandler) Poolability(w http.ResponseWriter, r *http.Request) {
	dataset, ok := pathValue(w, r, "dataset", h.logger)
	if !ok {
		return
	}
	cqa, ok := pathValue(w, r, "cqa", h.logger)
	if !ok {
		return
	}
	res, err := h.analysisService.TestPoolability(r.Context(), dataset, cqa)
	if err != nil {
		writeServiceError(w, h.logger, "poolability", err)
		return
	}
	writeOK(w, h.logger, http.StatusOK, PoolabilityResponse{
		Poolable:   res.Poolable,
		PValue:     Float(res.PValue),
		FStatistic: Float(res.FStatistic),
		Heuristic:  res.Heuristic,
		Lots:       res.Lots,
		N:          res.N,
		Reason:     res.Reason,
	})
}

// Trend handles GET /api/analysis/{dataset}/stability/{cqa}/trend?lot=&pooled=
func (h *AnalysisHandler) Trend(w http.ResponseWriter, r *http.Request) {
	dataset, ok := pathValue(w, r, "dataset", h.logger)
	if !ok {
		return
	}
	cqa, ok := pathValue(w, r, "cqa", h.logger)
	if !ok {
		return
	}
	opts := analytics.TrendOptions{Lot: r.URL.Query().Get("lot")}
	if raw := r.URL.Query().Get("pooled"); raw != "" {
		pooled, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, h.logger, http.StatusBadRequest, "invalid_pooled", "pooled must be true or false")
			return
		}
		opts.Pooled = pooled
	}

	report, err := h.analysisService.ProjectTrend(r.Context(), dataset, cqa, opts)
	if err != nil {
		writeServiceError(w, h.logger, "stability trend", err)
		return
	}
	writeOK(w, h.logger, http.StatusOK, newTrendResponse(report))
}

// Anomalies handles POST /api/analysis/{dataset}/anomalies
func (h *AnalysisHandler) Anomalies(w http.ResponseWriter, r *http.Request) {
	dataset, ok := pathValue(w, r, "dataset", h.logger)
	if !ok {
		return
	}
	var req AnomalyRequest
	if r.ContentLength != 0 {
		if !decodeJSON(w, r, h.logger, &req) {
			return
		}
	}
	res, err := h.analysisService.RunAnomalyDetection(r.Context(), dataset, req.Features, req.Contamination)
	if err != nil {
		writeServiceError(w, h.logger, "anomaly detection", err)
		return
	}
	writeOK(w, h.logger, http.StatusOK, newAnomalyResponse(res))
}
