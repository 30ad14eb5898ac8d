package commands

import (
	"errors"

	"github.com/spf13/cobra"

	"landvalue/internal/database"
)

func newGeocodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "geocode",
		Short: "Fill in coordinates for stored properties that lack them (SQLite store)",
		RunE:  runGeocode,
	}
}

func runGeocode(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	db, ok := rt.store.(*database.Database)
	if !ok {
		return errors.New("geocode is only supported by the sqlite backend")
	}

	geocoder := rt.geocoder()
	defer geocoder.Close()
	return db.UpdateMissingCoordinates(commandContext(cmd), geocoder)
}
