// Package quality decides whether a grouped export unit is worth
// acquiring: enough of the grid cell must be covered by valid pixels
// and the mosaic must not be too cloudy for its purpose.
package quality

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/floodscope/acquirer/internal/geo"
	"github.com/floodscope/acquirer/internal/platform"
	"github.com/floodscope/acquirer/internal/scene"
)

// Thresholds bound the acceptable cloud and invalid-pixel fractions,
// both in [0,1].
type Thresholds struct {
	MaxCloud   float64 `yaml:"max_cloud"`
	MaxInvalid float64 `yaml:"max_invalid"`
}

// DefaultThresholds returns the shipped per-purpose thresholds. Flood
// imagery tolerates heavy cloud because partial visibility during an
// event is still valuable; reference imagery must be near-clear.
func DefaultThresholds() map[scene.Purpose]Thresholds {
	return map[scene.Purpose]Thresholds{
		scene.PurposeFlood:     {MaxCloud: 0.95, MaxInvalid: 0.70},
		scene.PurposeReference: {MaxCloud: 0.10, MaxInvalid: 0.10},
	}
}

// Decision is the gate's verdict on one export unit. Both fractions
// are recorded regardless of the verdict so filtered units remain
// auditable in the ledger.
type Decision struct {
	Export        bool
	ValidFraction float64
	CloudFraction float64
	Reason        string
}

// Gate evaluates export units against purpose-specific thresholds.
type Gate struct {
	client     platform.Client
	bands      platform.BandTable
	channelCfg string
	thresholds map[scene.Purpose]Thresholds
	log        *slog.Logger
}

// NewGate builds a quality gate. Missing purposes in the thresholds
// map fall back to the defaults.
func NewGate(client platform.Client, bands platform.BandTable, channelCfg string, thresholds map[scene.Purpose]Thresholds) *Gate {
	merged := DefaultThresholds()
	for purpose, t := range thresholds {
		merged[purpose] = t
	}
	return &Gate{
		client:     client,
		bands:      bands,
		channelCfg: channelCfg,
		thresholds: merged,
		log:        slog.With("component", "quality"),
	}
}

// Evaluate computes the valid and cloud fractions for an export unit
// and applies the thresholds for its purpose.
//
// The valid fraction is geometric: the share of the grid cell covered
// by the merged scene footprints. The cloud fraction comes from the
// remote pixel computation when every member scene carries a
// cloud-probability product; otherwise it is unknown and only the
// valid-pixel threshold applies.
func (g *Gate) Evaluate(ctx context.Context, unit scene.SpatialUnit, eu *scene.ExportUnit) (Decision, error) {
	thresholds, ok := g.thresholds[eu.Purpose]
	if !ok {
		return Decision{}, fmt.Errorf("no thresholds for purpose %q", eu.Purpose)
	}

	footprint, err := eu.Footprint()
	if err != nil {
		return Decision{}, fmt.Errorf("evaluate %s: %w", eu.Description(), err)
	}
	valid, err := geo.OverlapFraction(unit.Footprint, footprint)
	if err != nil {
		return Decision{}, fmt.Errorf("evaluate %s: %w", eu.Description(), err)
	}

	cloud, err := g.cloudFraction(ctx, unit, eu)
	if err != nil {
		return Decision{}, fmt.Errorf("evaluate %s: %w", eu.Description(), err)
	}

	decision := Decision{ValidFraction: valid, CloudFraction: cloud}
	switch {
	case valid < 1-thresholds.MaxInvalid:
		decision.Reason = fmt.Sprintf("valid fraction %.3f below %.3f", valid, 1-thresholds.MaxInvalid)
	case cloud != platform.CloudFractionUnknown && cloud > thresholds.MaxCloud:
		decision.Reason = fmt.Sprintf("cloud fraction %.3f above %.3f", cloud, thresholds.MaxCloud)
	default:
		decision.Export = true
		decision.Reason = "ok"
	}

	g.log.Info("quality decision",
		"description", eu.Description(),
		"purpose", eu.Purpose,
		"valid_fraction", valid,
		"cloud_fraction", cloud,
		"export", decision.Export,
		"reason", decision.Reason)
	return decision, nil
}

func (g *Gate) cloudFraction(ctx context.Context, unit scene.SpatialUnit, eu *scene.ExportUnit) (float64, error) {
	if len(eu.Scenes) == 0 {
		return platform.CloudFractionUnknown, nil
	}
	// The mosaic's cloud band is only trustworthy when every member
	// scene carries the probability product.
	for _, s := range eu.Scenes {
		if !s.HasCloudProb {
			return platform.CloudFractionUnknown, nil
		}
	}

	channels, err := g.bands.Resolve(g.channelCfg, eu.Sensor)
	if err != nil {
		return 0, err
	}
	assetIDs := make([]string, len(eu.Scenes))
	for i, s := range eu.Scenes {
		assetIDs[i] = s.AssetID()
	}
	result, err := g.client.ComputeMetrics(ctx, platform.MetricsRequest{
		AssetIDs:      assetIDs,
		Channels:      channels,
		ClipWKT:       unit.Footprint.AsText(),
		WithCloudProb: true,
	})
	if err != nil {
		return 0, fmt.Errorf("remote cloud fraction: %w", err)
	}
	return result.CloudFraction, nil
}
