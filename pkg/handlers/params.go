package handlers

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/veritas-qms/veritas-engine/pkg/auth"
	"github.com/veritas-qms/veritas-engine/pkg/qc"
)

// currentUser returns the acting user stored by auth.Middleware. Returns
// false after writing a 401 when the route was registered without it.
func currentUser(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (string, bool) {
	user, err := auth.RequireUserFromContext(r.Context())
	if err != nil {
		writeError(w, logger, http.StatusUnauthorized, "unauthorized", "Acting user required")
		return "", false
	}
	return user, true
}

// pathValue extracts a required path parameter.
// Returns false after writing a 400 when it is empty.
func pathValue(w http.ResponseWriter, r *http.Request, name string, logger *zap.Logger) (string, bool) {
	v := strings.TrimSpace(r.PathValue(name))
	if v == "" {
		writeError(w, logger, http.StatusBadRequest, "invalid_"+name, "Missing "+name)
		return "", false
	}
	return v, true
}

// requiredQuery extracts a required query parameter.
func requiredQuery(w http.ResponseWriter, r *http.Request, name string, logger *zap.Logger) (string, bool) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		writeError(w, logger, http.StatusBadRequest, "missing_"+name, "Query parameter "+name+" is required")
		return "", false
	}
	return v, true
}

// queryList collects a repeatable, comma-separated query parameter.
// ?user=a&user=b,c yields [a b c].
func queryList(r *http.Request, name string) []string {
	var out []string
	for _, raw := range r.URL.Query()[name] {
		for _, part := range strings.Split(raw, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// parseRules converts rule names into a RuleSet. No names means every rule.
func parseRules(names []string) (qc.RuleSet, error) {
	if len(names) == 0 {
		return qc.AllRules(), nil
	}
	rules := make([]qc.Rule, 0, len(names))
	for _, n := range names {
		r, err := qc.ParseRule(n)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return qc.NewRuleSet(rules...), nil
}
