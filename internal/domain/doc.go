// Package domain models flood-risk assessment for monitored locations.
//
// # Risk formula
//
// A risk percentage in [0,100] is a weighted sum of four factor groups
// derived from the observation window:
//
//	precipitation  0.40  min(100, predicted 24h precipitation / 50mm * 100)
//	soil saturation 0.25 min(100, trailing 7-day precipitation sum / 100mm * 100)
//	intensity      0.20  min(100, max single forecast-point precipitation / 20mm * 100)
//	environmental  0.15  min(100, (tempFactor * windFactor * pressureFactor - 1) * 100)
//
// Environmental breakpoints:
//
//	temperature: >30°C ×1.2 | >25°C ×1.1 | <10°C ×0.9 | else ×1.0
//	wind:        >15 m/s ×1.3 | >10 m/s ×1.1 | else ×1.0
//	pressure:    <1000 hPa ×1.4 | <1010 hPa ×1.2 | >1020 hPa ×0.8 | else ×1.0
//
// Ground-sensor readings, when present, multiply the weighted base
// sequentially: soil moisture above 80% ×1.2, river level above the
// configured threshold ×1.3. The final value is clamped to [0,100].
//
// These constants are empirical and have not been validated against real
// flood outcomes. They are reproducible configuration ([ScoringConfig]),
// not a calibrated model.
//
// # Tiers
//
// The percentage maps onto a discrete tier with fixed thresholds:
// ≥75 critical, ≥50 high, ≥25 moderate, else low. Boundaries are exact:
// 74.999 is high, 75.0 is critical.
//
// # Append-only semantics
//
// Observations and risk assessments are never updated in place. New rows
// supersede old ones; "current" always means the row with the greatest
// timestamp for a location. This keeps the raw history auditable and every
// derived aggregate recomputable.
package domain
