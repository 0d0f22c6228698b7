package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/verdantiq/verdantiq/internal/domain/model"
	"github.com/verdantiq/verdantiq/internal/service"
)

// footprintPayload is the input of a footprint calculation job: a set of
// activity quantities with their emission factors.
type footprintPayload struct {
	Scope   string           `json:"scope,omitempty"`
	Factors []activityFactor `json:"factors"`
}

type activityFactor struct {
	Activity    string  `json:"activity"`
	Quantity    float64 `json:"quantity"`
	Unit        string  `json:"unit,omitempty"`
	CO2ePerUnit float64 `json:"co2ePerUnit"`
}

type footprintResult struct {
	Scope       string             `json:"scope,omitempty"`
	CO2eKg      float64            `json:"co2eKg"`
	ByActivity  map[string]float64 `json:"byActivity"`
	FactorCount int                `json:"factorCount"`
}

// NewFootprintCalc returns the handler for footprint calculation jobs. The
// calculation is pure: equal payloads always produce equal results, which is
// what makes deduplicating these jobs safe.
func NewFootprintCalc() service.Handler {
	return func(ctx context.Context, job *model.Job, progress service.ProgressFunc) (json.RawMessage, error) {
		var payload footprintPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return nil, fmt.Errorf("decode footprint payload: %w", err)
		}
		if len(payload.Factors) == 0 {
			return nil, errors.New("footprint payload has no factors")
		}

		result := footprintResult{
			Scope:       payload.Scope,
			ByActivity:  make(map[string]float64, len(payload.Factors)),
			FactorCount: len(payload.Factors),
		}

		for i, factor := range payload.Factors {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if factor.Activity == "" {
				return nil, fmt.Errorf("factor %d has no activity name", i)
			}
			if factor.Quantity < 0 || factor.CO2ePerUnit < 0 {
				return nil, fmt.Errorf("factor %q has negative inputs", factor.Activity)
			}

			co2e := factor.Quantity * factor.CO2ePerUnit
			result.ByActivity[factor.Activity] += co2e
			result.CO2eKg += co2e

			progress(ctx, (i+1)*100/len(payload.Factors))
		}

		return json.Marshal(result)
	}
}
