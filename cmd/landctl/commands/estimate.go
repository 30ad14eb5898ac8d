package commands

import (
	"github.com/spf13/cobra"

	"landvalue/internal/comparables"
	"landvalue/internal/models"
	"landvalue/internal/valuation"
)

func newEstimateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Estimate the value of a parcel from nearby comparables",
		RunE:  runEstimate,
	}

	flags := cmd.Flags()
	flags.Float64("lat", 0, "parcel latitude (required)")
	flags.Float64("lng", 0, "parcel longitude (required)")
	flags.Float64("area", 0, "parcel area in square feet (required)")
	flags.String("category", "", "residential, commercial, agricultural or industrial (required)")
	flags.Bool("near-water", false, "parcel is near water")
	flags.Bool("no-road", false, "parcel has no road access")
	flags.Bool("no-utilities", false, "parcel has no utilities")
	for _, name := range []string{"lat", "lng", "area", "category"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func runEstimate(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	lat, _ := flags.GetFloat64("lat")
	lng, _ := flags.GetFloat64("lng")
	area, _ := flags.GetFloat64("area")
	category, _ := flags.GetString("category")
	nearWater, _ := flags.GetBool("near-water")
	noRoad, _ := flags.GetBool("no-road")
	noUtilities, _ := flags.GetBool("no-utilities")

	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	geocoder := rt.geocoder()
	defer geocoder.Close()

	options := comparables.Options{
		MinDesired:   rt.cfg.Selection.MinDesired,
		MaxDesired:   rt.cfg.Selection.MaxDesired,
		RadiusKm:     rt.cfg.Selection.RadiusKm,
		StageTimeout: rt.cfg.Selection.StageTimeout,
	}
	if rt.cfg.Selection.SynthesizeFallback {
		options.Placeholder = valuation.PlaceholderObservation
	}
	service := valuation.NewService(comparables.NewSelector(rt.store, geocoder, options, rt.logger), rt.logger)

	resp, err := service.Value(commandContext(cmd), valuation.Request{
		Area:     area,
		Category: models.Category(category),
		Features: &models.Features{
			NearWater:  nearWater,
			RoadAccess: !noRoad,
			Utilities:  !noUtilities,
		},
		QueryPoint: models.GeoPoint{Lat: lat, Lng: lng},
	})
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), resp)
}
