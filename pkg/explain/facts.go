package explain

import (
	"github.com/mangoweb/nexus-router/pkg/models"
)

// BuildFacts distills a routing decision into the structured fact set handed
// to the language model. Pure: the totals are copied from the decision, never
// recomputed, so the narrated numbers always match what the API returned.
func BuildFacts(req models.RouteRequest, chosen models.Route, alternates []models.Route) models.FactSet {
	fs := models.FactSet{
		Source:              req.Source(),
		Destination:         req.Dest(),
		AmountUSD:           req.AmountUSD,
		Preference:          req.Preference,
		TotalCostUSD:        chosen.TotalCostUSD,
		TotalLatencySeconds: chosen.TotalLatency.Seconds(),
	}
	if fs.Preference == "" {
		fs.Preference = models.PreferCheapest
	}

	for _, s := range chosen.Steps {
		fs.Steps = append(fs.Steps, models.StepFact{
			Kind:           s.Action.Kind,
			From:           s.Action.From,
			To:             s.Action.To,
			Protocol:       s.Action.Protocol,
			CostUSD:        s.CostUSD,
			LatencySeconds: s.Latency.Seconds(),
		})
	}

	for _, alt := range alternates {
		fs.Alternates = append(fs.Alternates, models.AlternateFact{
			TotalCostUSD:   alt.TotalCostUSD,
			CostDeltaUSD:   alt.TotalCostUSD - chosen.TotalCostUSD,
			LatencySeconds: alt.TotalLatency.Seconds(),
			ChainSequence:  alt.ChainSequence(),
			StepCount:      len(alt.Steps),
		})
	}

	return fs
}
